package state

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-pulse/internal/book"
	"market-pulse/internal/market"
)

type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// State is the shared handle between the pipeline goroutine and its readers.
// The pipeline is the only writer of the market fields. Each field is atomic
// on its own, so a reader may see values from two adjacent updates.
type State struct {
	symbolMu sync.RWMutex
	symbol   string

	connected atomic.Bool

	bestBid     atomicFloat
	bestAsk     atomicFloat
	mid         atomicFloat
	weightedMid atomicFloat
	bboSpread   atomicFloat
	bboTime     atomic.Int64

	imbalance  atomicFloat
	bookSpread atomicFloat
	bookTime   atomic.Int64

	exposure atomicFloat

	book atomic.Pointer[book.Snapshot]
}

func NewState(symbol string) *State {
	s := &State{}
	s.SetSymbol(symbol)
	s.imbalance.Store(0.5)
	return s
}

func (s *State) SetSymbol(sym string) string {
	canon := strings.ToUpper(strings.TrimSpace(sym))
	s.symbolMu.Lock()
	defer s.symbolMu.Unlock()
	s.symbol = canon
	return canon
}

func (s *State) Symbol() string {
	s.symbolMu.RLock()
	defer s.symbolMu.RUnlock()
	return s.symbol
}

func (s *State) SetConnected(v bool) { s.connected.Store(v) }
func (s *State) Connected() bool     { return s.connected.Load() }

// Quote is the latest top of book as seen by the pipeline.
type Quote struct {
	BestBid     float64   `json:"bestBid"`
	BestAsk     float64   `json:"bestAsk"`
	Mid         float64   `json:"midprice"`
	WeightedMid float64   `json:"weightedMidprice"`
	Spread      float64   `json:"spread"`
	Time        time.Time `json:"time"`
}

func (s *State) PublishBBO(b market.BboSnapshot) {
	s.bestBid.Store(b.Bid().Price.Float64())
	s.bestAsk.Store(b.Ask().Price.Float64())
	s.mid.Store(b.Mid)
	s.weightedMid.Store(b.WeightedMid)
	s.bboSpread.Store(b.Spread())
	s.bboTime.Store(b.Time.UnixMilli())
}

// Quote returns the zero Quote until the first BBO has been published.
func (s *State) Quote() Quote {
	ms := s.bboTime.Load()
	if ms == 0 {
		return Quote{}
	}
	return Quote{
		BestBid:     s.bestBid.Load(),
		BestAsk:     s.bestAsk.Load(),
		Mid:         s.mid.Load(),
		WeightedMid: s.weightedMid.Load(),
		Spread:      s.bboSpread.Load(),
		Time:        time.UnixMilli(ms),
	}
}

// Pressure is the latest order-book imbalance.
type Pressure struct {
	Ratio  float64   `json:"ratio"`
	Spread float64   `json:"spread"`
	Time   time.Time `json:"time"`
}

func (s *State) PublishImbalance(st market.ImbalanceStat) {
	s.imbalance.Store(st.Ratio)
	s.bookSpread.Store(st.Spread)
	s.bookTime.Store(st.Time.UnixMilli())
}

func (s *State) Pressure() Pressure {
	p := Pressure{Ratio: s.imbalance.Load(), Spread: s.bookSpread.Load()}
	if ms := s.bookTime.Load(); ms != 0 {
		p.Time = time.UnixMilli(ms)
	}
	return p
}

// PublishBook swaps in a new book snapshot. snap must not be modified after
// this call.
func (s *State) PublishBook(snap *book.Snapshot) { s.book.Store(snap) }

// Book returns the latest snapshot, or nil before the first one.
func (s *State) Book() *book.Snapshot { return s.book.Load() }

// Exposure is the signed inventory held by the operator, set externally.
func (s *State) SetExposure(v float64) { s.exposure.Store(v) }
func (s *State) Exposure() float64     { return s.exposure.Load() }
