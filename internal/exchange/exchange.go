// Package exchange defines what the pipeline needs from an exchange
// integration and keeps a registry of the integrations compiled in.
package exchange

import (
	"context"
	"time"

	"market-pulse/internal/market"
)

// Kind is a bitmask of the payloads a raw message carries.
type Kind uint8

const (
	KindBBO Kind = 1 << iota
	KindBook
	KindTrades
)

func (k Kind) Has(o Kind) bool { return k&o != 0 }

// MarketDataDecoder turns raw feed messages into market types. Decoders keep
// per-feed parser state and are not safe for concurrent use.
type MarketDataDecoder interface {
	Name() string

	// Classify reports which payloads msg contains. Zero means the message
	// is a control frame (acks, pongs) and should be ignored.
	Classify(msg []byte) Kind

	Timestamp(msg []byte) (time.Time, error)
	DecodeBBO(msg []byte, dst []market.PriceLevel) ([]market.PriceLevel, error)
	DecodeBook(msg []byte, dst []market.BookLevelUpdate) ([]market.BookLevelUpdate, error)
	DecodeTrades(msg []byte, dst []market.Trade) ([]market.Trade, error)

	// SubscribeMessages returns the frames to send after connecting.
	SubscribeMessages(symbol string) ([][]byte, error)
}

// Feed delivers raw text frames from an exchange connection.
type Feed interface {
	// Run connects and keeps reconnecting until ctx is done. Messages and
	// Errors are closed when it returns.
	Run(ctx context.Context, onStatus func(connected bool))
	Messages() <-chan []byte
	Errors() <-chan error
	Connected() bool
	Close()
}

// Options configure a decoder at construction.
type Options struct {
	MaxSnapshotLevels int
}
