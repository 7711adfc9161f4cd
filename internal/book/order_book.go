package book

import (
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"market-pulse/internal/market"
)

// DefaultImbalanceDepth is how many levels per side feed the imbalance
// window, best level included in the count but excluded from the sums.
const DefaultImbalanceDepth = 20

type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds the current price ladder for one symbol. Bids iterate from
// the highest price, asks from the lowest. It is owned by a single goroutine;
// publish a Snapshot for anyone else.
type OrderBook struct {
	bids *treemap.Map
	asks *treemap.Map
}

func descending(a, b interface{}) int { return -utils.Float64Comparator(a, b) }

func New() *OrderBook {
	return &OrderBook{
		bids: treemap.NewWith(descending),
		asks: treemap.NewWith(utils.Float64Comparator),
	}
}

func (ob *OrderBook) Clear() {
	ob.bids.Clear()
	ob.asks.Clear()
}

// Upsert sets the size resting at price on one side. A zero size is stored
// like any other; removal is not special-cased.
func (ob *OrderBook) Upsert(price, size float64, isBid bool) {
	if isBid {
		ob.bids.Put(price, size)
		return
	}
	ob.asks.Put(price, size)
}

// Replace discards the current ladder and rebuilds it from a full snapshot.
func (ob *OrderBook) Replace(updates []market.BookLevelUpdate) {
	ob.Clear()
	for _, u := range updates {
		ob.Upsert(u.Price, u.Size, u.IsBid)
	}
}

func (ob *OrderBook) BestBid() (float64, bool) { return first(ob.bids) }
func (ob *OrderBook) BestAsk() (float64, bool) { return first(ob.asks) }

func (ob *OrderBook) Depth() (bids, asks int) { return ob.bids.Size(), ob.asks.Size() }

func first(m *treemap.Map) (float64, bool) {
	k, _ := m.Min()
	if k == nil {
		return 0, false
	}
	return k.(float64), true
}

// TopLevels returns up to n levels per side, best first. n <= 0 means all.
func (ob *OrderBook) TopLevels(n int) (bids, asks []Level) {
	return top(ob.bids, n), top(ob.asks, n)
}

func top(m *treemap.Map, n int) []Level {
	size := m.Size()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Level, 0, n)
	it := m.Iterator()
	for len(out) < n && it.Next() {
		out = append(out, Level{Price: it.Key().(float64), Size: it.Value().(float64)})
	}
	return out
}

type sideWindow struct {
	best, second float64
	sum          float64
	levels       int
}

// window walks the first depth levels of one side, remembering the best two
// prices and summing sizes from the second level on.
func window(m *treemap.Map, depth int) sideWindow {
	var w sideWindow
	it := m.Iterator()
	for i := 1; i <= depth && it.Next(); i++ {
		price, size := it.Key().(float64), it.Value().(float64)
		switch i {
		case 1:
			w.best = price
			continue
		case 2:
			w.second = price
		}
		w.sum += size
		w.levels++
	}
	return w
}

// ImbalanceAndSpread measures pressure on levels 2..depth of each side. The
// best level is left out because it is the easiest to stuff. Ratio is the bid
// share of the summed size, spread is second-best ask minus second-best bid.
// With nothing left on a side after the exclusion the result is neutral.
func (ob *OrderBook) ImbalanceAndSpread(depth int, ts time.Time) market.ImbalanceStat {
	if depth < 2 {
		depth = 2
	}
	b := window(ob.bids, depth)
	a := window(ob.asks, depth)

	stat := market.NeutralImbalance(ts)
	stat.BestBid, stat.SecondBid = b.best, b.second
	stat.BestAsk, stat.SecondAsk = a.best, a.second

	total := b.sum + a.sum
	if b.levels == 0 || a.levels == 0 || total <= 0 {
		return stat
	}
	stat.Ratio = b.sum / total
	stat.Spread = a.second - b.second
	return stat
}

// Snapshot copies the ladder into an immutable value safe to share.
func (ob *OrderBook) Snapshot(ts time.Time) *Snapshot {
	bids, asks := ob.TopLevels(0)
	return &Snapshot{Bids: bids, Asks: asks, Time: ts}
}
