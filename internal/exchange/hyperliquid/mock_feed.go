package hyperliquid

import (
	"context"
	"sync"
)

// MockFeed is a Feed driven by hand, for tests and demos.
type MockFeed struct {
	mu        sync.Mutex
	connected bool
	messages  chan []byte
	errors    chan error
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		connected: true,
		messages:  make(chan []byte, 64),
		errors:    make(chan error, 16),
	}
}

// Run reports the current status, then blocks until ctx is done or Close is
// called.
func (m *MockFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	onStatus(m.Connected())
	<-ctx.Done()
	m.closeChannels()
}

func (m *MockFeed) Messages() <-chan []byte { return m.messages }
func (m *MockFeed) Errors() <-chan error    { return m.errors }

func (m *MockFeed) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockFeed) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	m.closeChannels()
}

func (m *MockFeed) closeChannels() {
	m.closeOnce.Do(func() {
		close(m.messages)
		close(m.errors)
	})
}

// Helpers for tests. Send after Close panics.
func (m *MockFeed) Send(msg string)     { m.messages <- []byte(msg) }
func (m *MockFeed) SendError(err error) { m.errors <- err }
func (m *MockFeed) SetConnected(c bool) { m.mu.Lock(); m.connected = c; m.mu.Unlock() }
