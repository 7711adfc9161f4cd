package sink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"market-pulse/internal/market"
	"market-pulse/internal/ring"
)

const (
	DefaultQueueSize     = 4096
	DefaultFlushInterval = time.Second
)

type RecorderOptions struct {
	QueueSize     int
	FlushInterval time.Duration
}

// RecorderStats are the recorder's counters at one instant.
type RecorderStats struct {
	TradesWritten    uint64 `json:"tradesWritten"`
	TradesDropped    uint64 `json:"tradesDropped"`
	BBOWritten       uint64 `json:"bboWritten"`
	ImbalanceWritten uint64 `json:"imbalanceWritten"`
	WriteErrors      uint64 `json:"writeErrors"`
	BBOLag           uint64 `json:"bboLag"`
	ImbalanceLag     uint64 `json:"imbalanceLag"`
	BBOSkipped       uint64 `json:"bboSkipped"`
	ImbalanceSkipped uint64 `json:"imbalanceSkipped"`
}

// Recorder persists market data to a set of stores. Trades arrive through a
// bounded queue; BBO and imbalance are polled from their rings once per flush
// interval and only the most recent value of each is written.
type Recorder struct {
	symbol string
	stores []Store
	log    *slog.Logger
	every  time.Duration

	trades chan market.Trade
	batch  []market.Trade

	bbo    *ring.Channel[market.BboSnapshot]
	bboCur *ring.Cursor
	imb    *ring.Channel[market.ImbalanceStat]
	imbCur *ring.Cursor

	tradesWritten atomic.Uint64
	tradesDropped atomic.Uint64
	bboWritten    atomic.Uint64
	imbWritten    atomic.Uint64
	writeErrors   atomic.Uint64
	bboLag        atomic.Uint64
	imbLag        atomic.Uint64
	bboSkipped    atomic.Uint64
	imbSkipped    atomic.Uint64
}

// NewRecorder attaches cursors to both rings; only values published after
// this call are recorded.
func NewRecorder(symbol string, bbo *ring.Channel[market.BboSnapshot], imb *ring.Channel[market.ImbalanceStat], stores []Store, opts RecorderOptions, logger *slog.Logger) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Recorder{
		symbol: symbol,
		stores: stores,
		log:    logger,
		every:  opts.FlushInterval,
		trades: make(chan market.Trade, opts.QueueSize),
		batch:  make([]market.Trade, 0, opts.QueueSize),
		bbo:    bbo,
		bboCur: bbo.NewCursor(),
		imb:    imb,
		imbCur: imb.NewCursor(),
	}
}

// OfferTrades queues trades for the next flush. When the queue is full the
// trade is dropped and counted.
func (r *Recorder) OfferTrades(trades []market.Trade) {
	for _, t := range trades {
		select {
		case r.trades <- t:
		default:
			r.tradesDropped.Add(1)
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(fctx)
			cancel()
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush writes whatever is pending. It must only be called from one goroutine
// at a time.
func (r *Recorder) Flush(ctx context.Context) {
	r.batch = r.batch[:0]
drain:
	for len(r.batch) < cap(r.batch) {
		select {
		case t := <-r.trades:
			r.batch = append(r.batch, t)
		default:
			break drain
		}
	}

	bbo, haveBBO := r.bbo.Latest(r.bboCur)
	imb, haveImb := r.imb.Latest(r.imbCur)
	r.bboLag.Store(r.bbo.Lag(r.bboCur))
	r.imbLag.Store(r.imb.Lag(r.imbCur))
	r.bboSkipped.Store(r.bboCur.Skipped())
	r.imbSkipped.Store(r.imbCur.Skipped())

	for _, s := range r.stores {
		if len(r.batch) > 0 {
			r.check(s, "trades", s.WriteTrades(ctx, r.symbol, r.batch))
		}
		if haveBBO {
			r.check(s, "bbo", s.WriteBBO(ctx, r.symbol, bbo))
		}
		if haveImb {
			r.check(s, "imbalance", s.WriteImbalance(ctx, r.symbol, imb))
		}
	}
	r.tradesWritten.Add(uint64(len(r.batch)))
	if haveBBO {
		r.bboWritten.Add(1)
	}
	if haveImb {
		r.imbWritten.Add(1)
	}
}

func (r *Recorder) check(s Store, what string, err error) {
	if err == nil {
		return
	}
	r.writeErrors.Add(1)
	r.log.Warn("store write failed",
		slog.String("store", s.Name()),
		slog.String("kind", what),
		slog.Any("err", err),
	)
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		TradesWritten:    r.tradesWritten.Load(),
		TradesDropped:    r.tradesDropped.Load(),
		BBOWritten:       r.bboWritten.Load(),
		ImbalanceWritten: r.imbWritten.Load(),
		WriteErrors:      r.writeErrors.Load(),
		BBOLag:           r.bboLag.Load(),
		ImbalanceLag:     r.imbLag.Load(),
		BBOSkipped:       r.bboSkipped.Load(),
		ImbalanceSkipped: r.imbSkipped.Load(),
	}
}

// Close closes every store, returning the first error.
func (r *Recorder) Close() error {
	var first error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
