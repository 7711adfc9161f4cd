package book

import (
	"math"
	"testing"
	"time"

	"market-pulse/internal/market"
)

func ladder() []market.BookLevelUpdate {
	return []market.BookLevelUpdate{
		{Price: 100, Size: 50, IsBid: true},
		{Price: 99, Size: 6, IsBid: true},
		{Price: 98, Size: 2, IsBid: true},
		{Price: 101, Size: 40},
		{Price: 102, Size: 1},
		{Price: 103, Size: 1},
	}
}

func TestOrdering(t *testing.T) {
	ob := New()
	ob.Replace(ladder())
	bids, asks := ob.TopLevels(0)
	if len(bids) != 3 || len(asks) != 3 {
		t.Fatalf("depth got %d/%d want 3/3", len(bids), len(asks))
	}
	if bids[0].Price != 100 || bids[2].Price != 98 {
		t.Fatalf("bids must be descending, got %+v", bids)
	}
	if asks[0].Price != 101 || asks[2].Price != 103 {
		t.Fatalf("asks must be ascending, got %+v", asks)
	}
	if p, ok := ob.BestBid(); !ok || p != 100 {
		t.Fatalf("best bid got %v,%v", p, ok)
	}
	if p, ok := ob.BestAsk(); !ok || p != 101 {
		t.Fatalf("best ask got %v,%v", p, ok)
	}
	if b, a := ob.TopLevels(2); len(b) != 2 || len(a) != 2 {
		t.Fatalf("top 2 got %d/%d", len(b), len(a))
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ob := New()
	ob.Upsert(100, 5, true)
	ob.Upsert(100, 5, true)
	ob.Upsert(100, 7, true)
	if b, _ := ob.Depth(); b != 1 {
		t.Fatalf("bid levels got %d want 1", b)
	}
	bids, _ := ob.TopLevels(1)
	if bids[0].Size != 7 {
		t.Fatalf("size got %v want 7 (last write wins)", bids[0].Size)
	}
}

func TestReplaceDropsPreviousLadder(t *testing.T) {
	ob := New()
	ob.Replace(ladder())
	ob.Replace([]market.BookLevelUpdate{{Price: 50, Size: 1, IsBid: true}})
	b, a := ob.Depth()
	if b != 1 || a != 0 {
		t.Fatalf("depth got %d/%d want 1/0", b, a)
	}
	if _, ok := ob.BestAsk(); ok {
		t.Fatal("empty ask side should report no best ask")
	}
}

func TestImbalanceExcludesBestLevel(t *testing.T) {
	ob := New()
	ob.Replace(ladder())
	ts := time.UnixMilli(1708622398623)
	st := ob.ImbalanceAndSpread(DefaultImbalanceDepth, ts)

	// bids 6+2, asks 1+1; the 50 and 40 at the touch are ignored
	if math.Abs(st.Ratio-0.8) > 1e-12 {
		t.Fatalf("ratio got %v want 0.8", st.Ratio)
	}
	if st.Spread != 3 {
		t.Fatalf("spread got %v want 3 (102-99)", st.Spread)
	}
	if st.BestBid != 100 || st.SecondBid != 99 || st.BestAsk != 101 || st.SecondAsk != 102 {
		t.Fatalf("got %+v", st)
	}
	if !st.Time.Equal(ts) {
		t.Fatalf("time got %v", st.Time)
	}
}

func TestImbalanceDepthLimitsWindow(t *testing.T) {
	ob := New()
	ob.Replace(ladder())
	// depth 2 keeps only the second level: bids 6, asks 1
	st := ob.ImbalanceAndSpread(2, time.Time{})
	if math.Abs(st.Ratio-6.0/7.0) > 1e-12 {
		t.Fatalf("ratio got %v want %v", st.Ratio, 6.0/7.0)
	}
}

func TestImbalanceNeutralCases(t *testing.T) {
	ob := New()
	if st := ob.ImbalanceAndSpread(DefaultImbalanceDepth, time.Time{}); st.Ratio != 0.5 || st.Spread != 0 {
		t.Fatalf("empty book got %+v want neutral", st)
	}

	// one level per side leaves nothing after excluding the best
	ob.Replace([]market.BookLevelUpdate{{Price: 10, Size: 1, IsBid: true}, {Price: 11, Size: 1}})
	if st := ob.ImbalanceAndSpread(DefaultImbalanceDepth, time.Time{}); st.Ratio != 0.5 {
		t.Fatalf("single level got %+v want neutral", st)
	}

	ob.Replace([]market.BookLevelUpdate{
		{Price: 10, Size: 1, IsBid: true}, {Price: 9, Size: 0, IsBid: true},
		{Price: 11, Size: 1}, {Price: 12, Size: 0},
	})
	if st := ob.ImbalanceAndSpread(DefaultImbalanceDepth, time.Time{}); st.Ratio != 0.5 {
		t.Fatalf("zero size got %+v want neutral", st)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ob := New()
	ob.Replace(ladder())
	snap := ob.Snapshot(time.Time{})
	ob.Clear()

	if len(snap.Bids) != 3 || len(snap.Asks) != 3 {
		t.Fatalf("snapshot changed after Clear: %+v", snap)
	}
	if l, ok := snap.BestBid(); !ok || l.Price != 100 {
		t.Fatalf("snapshot best bid got %+v", l)
	}
	if b, a := snap.Top(1); len(b) != 1 || len(a) != 1 || a[0].Price != 101 {
		t.Fatalf("top got %+v %+v", b, a)
	}
	var nilSnap *Snapshot
	if _, ok := nilSnap.BestAsk(); ok {
		t.Fatal("nil snapshot has no levels")
	}
}

func BenchmarkImbalanceAndSpread(b *testing.B) {
	ob := New()
	for i := 0; i < 100; i++ {
		ob.Upsert(1000-float64(i), 1, true)
		ob.Upsert(1001+float64(i), 1, false)
	}
	ts := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.ImbalanceAndSpread(DefaultImbalanceDepth, ts)
	}
}
