package state

import (
	"sync"
	"testing"
	"time"

	"market-pulse/internal/book"
	"market-pulse/internal/market"
)

func TestSymbolNormalization(t *testing.T) {
	s := NewState(" btc ")
	if got := s.Symbol(); got != "BTC" {
		t.Fatalf("state symbol got %s", got)
	}
	if c := s.SetSymbol("eth"); c != "ETH" {
		t.Fatalf("canon got %s want ETH", c)
	}
}

func TestQuoteAndPressure(t *testing.T) {
	s := NewState("BTC")
	if q := s.Quote(); !q.Time.IsZero() || q.Mid != 0 {
		t.Fatalf("expected zero quote before first bbo, got %+v", q)
	}
	if p := s.Pressure(); p.Ratio != 0.5 || !p.Time.IsZero() {
		t.Fatalf("expected neutral pressure, got %+v", p)
	}

	ts := time.UnixMilli(1708622398623)
	bbo := market.NewBboSnapshot(
		market.PriceLevel{Price: 10000, Size: 20000},
		market.PriceLevel{Price: 10100, Size: 10000},
		ts,
	)
	s.PublishBBO(bbo)
	q := s.Quote()
	if q.BestBid != 100 || q.BestAsk != 101 || q.Mid != 100.5 || q.Spread != 1 {
		t.Fatalf("quote got %+v", q)
	}
	if !q.Time.Equal(ts) {
		t.Fatalf("quote time got %v", q.Time)
	}

	s.PublishImbalance(market.ImbalanceStat{Ratio: 0.8, Spread: 3, Time: ts})
	if p := s.Pressure(); p.Ratio != 0.8 || p.Spread != 3 || !p.Time.Equal(ts) {
		t.Fatalf("pressure got %+v", p)
	}
}

func TestBookSnapshotSwap(t *testing.T) {
	s := NewState("BTC")
	if s.Book() != nil {
		t.Fatal("expected nil book before publish")
	}
	ob := book.New()
	ob.Upsert(100, 1, true)
	s.PublishBook(ob.Snapshot(time.Time{}))
	ob.Upsert(99, 1, true)

	if got := len(s.Book().Bids); got != 1 {
		t.Fatalf("published snapshot changed: %d bids", got)
	}
}

func TestConcurrentReaders(t *testing.T) {
	s := NewState("BTC")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = s.Quote()
				_ = s.Book()
				_ = s.Exposure()
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		s.PublishBBO(market.NewBboSnapshot(market.PriceLevel{Price: market.Price(j)}, market.PriceLevel{Price: market.Price(j + 1)}, time.UnixMilli(int64(j+1))))
		s.SetExposure(float64(j))
	}
	wg.Wait()
	if s.Exposure() != 999 {
		t.Fatalf("exposure got %v", s.Exposure())
	}
}
