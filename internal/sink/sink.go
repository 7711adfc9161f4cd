// Package sink moves derived market data out of the process. Nothing here is
// allowed to slow the pipeline down: trades are offered without blocking and
// ring data is polled on the recorder's own schedule.
package sink

import (
	"context"

	"market-pulse/internal/market"
)

// TradeSink accepts decoded trades from the pipeline. OfferTrades must not
// block and must not retain the slice.
type TradeSink interface {
	OfferTrades(trades []market.Trade)
}

// Store is a destination for recorded data.
type Store interface {
	Name() string
	WriteTrades(ctx context.Context, symbol string, trades []market.Trade) error
	WriteBBO(ctx context.Context, symbol string, b market.BboSnapshot) error
	WriteImbalance(ctx context.Context, symbol string, s market.ImbalanceStat) error
	Close() error
}
