package sink

import (
	"context"
	"log/slog"

	"market-pulse/internal/market"
)

// LogStore writes recorded data to a structured logger.
type LogStore struct {
	log *slog.Logger
}

func NewLogStore(logger *slog.Logger) *LogStore {
	return &LogStore{log: logger.With("component", "recorder")}
}

func (l *LogStore) Name() string { return "log" }

func (l *LogStore) WriteTrades(ctx context.Context, symbol string, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	last := trades[len(trades)-1]
	l.log.InfoContext(ctx, "trades",
		slog.String("symbol", symbol),
		slog.Int("count", len(trades)),
		slog.String("last_px", last.Price.String()),
		slog.String("last_sz", last.Size.String()),
		slog.String("last_side", last.Side.String()),
	)
	return nil
}

func (l *LogStore) WriteBBO(ctx context.Context, symbol string, b market.BboSnapshot) error {
	l.log.InfoContext(ctx, "bbo",
		slog.String("symbol", symbol),
		slog.String("bid", b.Bid().Price.String()),
		slog.String("ask", b.Ask().Price.String()),
		slog.Float64("mid", b.Mid),
		slog.Float64("weighted_mid", b.WeightedMid),
	)
	return nil
}

func (l *LogStore) WriteImbalance(ctx context.Context, symbol string, s market.ImbalanceStat) error {
	l.log.InfoContext(ctx, "imbalance",
		slog.String("symbol", symbol),
		slog.Float64("ratio", s.Ratio),
		slog.Float64("spread", s.Spread),
	)
	return nil
}

func (l *LogStore) Close() error { return nil }
