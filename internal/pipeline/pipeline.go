// Package pipeline turns raw feed messages into order-book state and fans the
// results out through ring channels. A Pipeline is the only producer on its
// rings and the only goroutine that touches its OrderBook.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"market-pulse/internal/book"
	"market-pulse/internal/exchange"
	"market-pulse/internal/market"
	"market-pulse/internal/parse"
	"market-pulse/internal/ring"
	"market-pulse/internal/sink"
	"market-pulse/internal/state"
)

type Options struct {
	// ImbalanceDepth is the number of levels per side the imbalance looks at.
	ImbalanceDepth int

	// OnError, if set, is called once for every message that failed.
	OnError func(err error)
}

// Stats are the pipeline counters at one instant.
type Stats struct {
	Messages       uint64 `json:"messages"`
	Ignored        uint64 `json:"ignored"`
	BBO            uint64 `json:"bbo"`
	Books          uint64 `json:"books"`
	Trades         uint64 `json:"trades"`
	Errors         uint64 `json:"errors"`
	Malformed      uint64 `json:"malformed"`
	Oversized      uint64 `json:"oversized"`
	IncompleteBBO  uint64 `json:"incompleteBbo"`
	EmptySnapshots uint64 `json:"emptySnapshots"`
}

type counters struct {
	messages       atomic.Uint64
	ignored        atomic.Uint64
	bbo            atomic.Uint64
	books          atomic.Uint64
	trades         atomic.Uint64
	errors         atomic.Uint64
	malformed      atomic.Uint64
	oversized      atomic.Uint64
	incompleteBBO  atomic.Uint64
	emptySnapshots atomic.Uint64
}

type Pipeline struct {
	dec    exchange.MarketDataDecoder
	book   *book.OrderBook
	bbo    *ring.Channel[market.BboSnapshot]
	imb    *ring.Channel[market.ImbalanceStat]
	trades sink.TradeSink
	st     *state.State
	log    *slog.Logger

	depth   int
	onError func(error)

	// scratch reused across messages
	levels  []market.PriceLevel
	updates []market.BookLevelUpdate
	batch   []market.Trade

	stats counters
}

// New builds a pipeline. trades may be nil, in which case decoded trades are
// only counted.
func New(opts Options, dec exchange.MarketDataDecoder, bbo *ring.Channel[market.BboSnapshot], imb *ring.Channel[market.ImbalanceStat], trades sink.TradeSink, st *state.State, logger *slog.Logger) *Pipeline {
	if opts.ImbalanceDepth < 2 {
		opts.ImbalanceDepth = book.DefaultImbalanceDepth
	}
	return &Pipeline{
		dec:     dec,
		book:    book.New(),
		bbo:     bbo,
		imb:     imb,
		trades:  trades,
		st:      st,
		log:     logger.With("component", "pipeline"),
		depth:   opts.ImbalanceDepth,
		onError: opts.OnError,
		levels:  make([]market.PriceLevel, 0, 2),
		updates: make([]market.BookLevelUpdate, 0, 256),
		batch:   make([]market.Trade, 0, 64),
	}
}

// Run handles messages until in is closed or ctx is done. A bad message is
// counted and skipped; it never stops the loop.
func (p *Pipeline) Run(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			_ = p.Handle(msg)
		}
	}
}

// Handle processes one raw message. The BBO, book and trades parts are
// handled independently; a failure in one does not stop the others. All
// failures of a message are joined and count as a single error event.
func (p *Pipeline) Handle(msg []byte) error {
	p.stats.messages.Add(1)

	kind := p.dec.Classify(msg)
	if kind == 0 {
		p.stats.ignored.Add(1)
		return nil
	}

	var ts time.Time
	if kind.Has(exchange.KindBBO | exchange.KindBook) {
		var err error
		if ts, err = p.dec.Timestamp(msg); err != nil {
			ts = time.Now()
		}
	}

	var errs []error
	if kind.Has(exchange.KindBBO) {
		if err := p.handleBBO(msg, ts); err != nil {
			errs = append(errs, fmt.Errorf("bbo: %w", err))
		}
	}
	if kind.Has(exchange.KindBook) {
		if err := p.handleBook(msg, ts); err != nil {
			errs = append(errs, fmt.Errorf("book: %w", err))
		}
	}
	if kind.Has(exchange.KindTrades) {
		if err := p.handleTrades(msg); err != nil {
			errs = append(errs, fmt.Errorf("trades: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}

	err := errors.Join(errs...)
	p.stats.errors.Add(1)
	if errors.Is(err, parse.ErrOversizedSnapshot) {
		p.stats.oversized.Add(1)
	}
	if errors.Is(err, parse.ErrMalformedMessage) {
		p.stats.malformed.Add(1)
	}
	p.log.Warn("message dropped", slog.Int("bytes", len(msg)), slog.Any("err", err))
	if p.onError != nil {
		p.onError(err)
	}
	return err
}

func (p *Pipeline) handleBBO(msg []byte, ts time.Time) error {
	levels, err := p.dec.DecodeBBO(msg, p.levels)
	p.levels = levels
	if err != nil {
		return err
	}
	if len(levels) < 2 {
		p.stats.incompleteBBO.Add(1)
		return nil
	}
	snap := market.NewBboSnapshot(levels[0], levels[1], ts)
	p.bbo.Publish(snap)
	p.st.PublishBBO(snap)
	p.stats.bbo.Add(1)
	return nil
}

func (p *Pipeline) handleBook(msg []byte, ts time.Time) error {
	updates, err := p.dec.DecodeBook(msg, p.updates)
	p.updates = updates
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		p.stats.emptySnapshots.Add(1)
		return nil
	}
	p.book.Replace(updates)
	stat := p.book.ImbalanceAndSpread(p.depth, ts)
	p.imb.Publish(stat)
	p.st.PublishImbalance(stat)
	p.st.PublishBook(p.book.Snapshot(ts))
	p.stats.books.Add(1)
	return nil
}

func (p *Pipeline) handleTrades(msg []byte) error {
	trades, err := p.dec.DecodeTrades(msg, p.batch)
	p.batch = trades
	if err != nil {
		return err
	}
	p.stats.trades.Add(uint64(len(trades)))
	if p.trades != nil && len(trades) > 0 {
		p.trades.OfferTrades(trades)
	}
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Messages:       p.stats.messages.Load(),
		Ignored:        p.stats.ignored.Load(),
		BBO:            p.stats.bbo.Load(),
		Books:          p.stats.books.Load(),
		Trades:         p.stats.trades.Load(),
		Errors:         p.stats.errors.Load(),
		Malformed:      p.stats.malformed.Load(),
		Oversized:      p.stats.oversized.Load(),
		IncompleteBBO:  p.stats.incompleteBBO.Load(),
		EmptySnapshots: p.stats.emptySnapshots.Load(),
	}
}
