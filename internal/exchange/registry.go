package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownExchange = errors.New("unknown exchange")

// Constructor builds a decoder. Integrations register one from init().
type Constructor func(opts Options) (MarketDataDecoder, error)

var (
	registry = make(map[string]Constructor)
	mu       sync.RWMutex
)

func Register(name string, c Constructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("exchange %q already registered", name)
	}
	registry[name] = c
	return nil
}

// NewDecoder builds the decoder registered under name.
func NewDecoder(name string, opts Options) (MarketDataDecoder, error) {
	mu.RLock()
	c, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	return c(opts)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
