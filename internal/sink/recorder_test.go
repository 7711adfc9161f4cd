package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
	"market-pulse/internal/ring"
)

type fakeStore struct {
	mu     sync.Mutex
	name   string
	fail   error
	trades []market.Trade
	bbos   []market.BboSnapshot
	imbs   []market.ImbalanceStat
	closed bool
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) WriteTrades(_ context.Context, _ string, trades []market.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.trades = append(f.trades, trades...)
	return nil
}

func (f *fakeStore) WriteBBO(_ context.Context, _ string, b market.BboSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.bbos = append(f.bbos, b)
	return nil
}

func (f *fakeStore) WriteImbalance(_ context.Context, _ string, s market.ImbalanceStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.imbs = append(f.imbs, s)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.fail
}

func (f *fakeStore) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades), len(f.bbos), len(f.imbs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func rings(t *testing.T) (*ring.Channel[market.BboSnapshot], *ring.Channel[market.ImbalanceStat]) {
	t.Helper()
	bbo, err := ring.New[market.BboSnapshot](8)
	if err != nil {
		t.Fatal(err)
	}
	imb, err := ring.New[market.ImbalanceStat](8)
	if err != nil {
		t.Fatal(err)
	}
	return bbo, imb
}

func trade(px float64) market.Trade {
	return market.Trade{Symbol: "BTC", Price: decimal.NewFromFloat(px), Size: decimal.NewFromInt(1)}
}

func TestRecorderFlushWritesLatest(t *testing.T) {
	bbo, imb := rings(t)
	store := &fakeStore{name: "fake"}
	rec := NewRecorder("BTC", bbo, imb, []Store{store}, RecorderOptions{}, discard())

	for i := 1; i <= 3; i++ {
		bbo.Publish(market.NewBboSnapshot(
			market.PriceLevel{Price: market.Price(100 * i)},
			market.PriceLevel{Price: market.Price(100*i + 1)},
			time.UnixMilli(int64(i)),
		))
	}
	rec.OfferTrades([]market.Trade{trade(1.5), trade(2.5)})

	rec.Flush(context.Background())

	tr, bb, im := store.counts()
	if tr != 2 || bb != 1 || im != 0 {
		t.Fatalf("writes got trades=%d bbo=%d imbalance=%d want 2,1,0", tr, bb, im)
	}
	if got := store.bbos[0].Bid().Price; got != 300 {
		t.Fatalf("expected most recent bbo, got bid %v", got)
	}
	if !store.trades[1].Price.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("trade order wrong: %+v", store.trades)
	}

	// nothing new: nothing written
	rec.Flush(context.Background())
	if tr, bb, _ := store.counts(); tr != 2 || bb != 1 {
		t.Fatalf("second flush wrote again: trades=%d bbo=%d", tr, bb)
	}

	st := rec.Stats()
	if st.TradesWritten != 2 || st.BBOWritten != 1 || st.BBOLag != 0 {
		t.Fatalf("stats got %+v", st)
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	bbo, imb := rings(t)
	rec := NewRecorder("BTC", bbo, imb, nil, RecorderOptions{QueueSize: 2}, discard())
	rec.OfferTrades([]market.Trade{trade(1), trade(2), trade(3)})
	if d := rec.Stats().TradesDropped; d != 1 {
		t.Fatalf("dropped got %d want 1", d)
	}
}

func TestRecorderStoreErrorIsNotFatal(t *testing.T) {
	bbo, imb := rings(t)
	bad := &fakeStore{name: "bad", fail: errors.New("boom")}
	good := &fakeStore{name: "good"}
	rec := NewRecorder("BTC", bbo, imb, []Store{bad, good}, RecorderOptions{}, discard())

	imb.Publish(market.ImbalanceStat{Ratio: 0.7})
	rec.Flush(context.Background())

	if _, _, im := good.counts(); im != 1 {
		t.Fatalf("good store imbalance writes got %d want 1", im)
	}
	if e := rec.Stats().WriteErrors; e != 1 {
		t.Fatalf("write errors got %d want 1", e)
	}
	if err := rec.Close(); err == nil {
		t.Fatal("close should report the failing store")
	}
	if !good.closed || !bad.closed {
		t.Fatal("all stores should be closed")
	}
}

func TestRecorderRunFlushesOnShutdown(t *testing.T) {
	bbo, imb := rings(t)
	store := &fakeStore{name: "fake"}
	rec := NewRecorder("BTC", bbo, imb, []Store{store}, RecorderOptions{FlushInterval: time.Hour}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	rec.OfferTrades([]market.Trade{trade(10)})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if tr, _, _ := store.counts(); tr != 1 {
		t.Fatalf("final flush wrote %d trades want 1", tr)
	}
}

func TestLogStore(t *testing.T) {
	var s Store = NewLogStore(discard())
	ctx := context.Background()
	if err := s.WriteTrades(ctx, "BTC", []market.Trade{trade(1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteTrades(ctx, "BTC", nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := s.WriteBBO(ctx, "BTC", market.BboSnapshot{}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteImbalance(ctx, "BTC", market.NeutralImbalance(time.Time{})); err != nil {
		t.Fatal(err)
	}
	if s.Name() != "log" || s.Close() != nil {
		t.Fatal("unexpected log store identity")
	}
}
