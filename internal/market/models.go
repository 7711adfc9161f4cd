package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ASK"
	}
	return "BID"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSide accepts the exchange trade codes ("B" buy aggressor, "A" sell
// aggressor) as well as BID/ASK/BUY/SELL.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "B", "b", "BID", "bid", "BUY", "buy":
		return SideBid, true
	case "A", "a", "ASK", "ask", "SELL", "sell":
		return SideAsk, true
	}
	return SideBid, false
}

// Price is a fixed-point price with two fractional digits.
type Price int64

const PriceScale = 100

func (p Price) Float64() float64             { return float64(p) / PriceScale }
func (p Price) Decimal() decimal.Decimal     { return decimal.New(int64(p), -2) }
func (p Price) String() string               { return p.Decimal().StringFixed(2) }
func (p Price) MarshalJSON() ([]byte, error) { return p.Decimal().MarshalJSON() }

// Size is a fixed-point quantity with four fractional digits.
type Size int64

const SizeScale = 10000

func (s Size) Float64() float64             { return float64(s) / SizeScale }
func (s Size) Decimal() decimal.Decimal     { return decimal.New(int64(s), -4) }
func (s Size) String() string               { return s.Decimal().StringFixed(4) }
func (s Size) MarshalJSON() ([]byte, error) { return s.Decimal().MarshalJSON() }

// PriceLevel is one side of a best-bid/offer quote.
type PriceLevel struct {
	Price  Price `json:"price"`
	Size   Size  `json:"size"`
	Orders int   `json:"orders"`
	Side   Side  `json:"side"`
}

// BboSnapshot is the best bid and ask at an instant. Levels are [bid, ask].
// It is copied by value through ring channels, so keep it a flat value.
type BboSnapshot struct {
	Levels      [2]PriceLevel `json:"levels"`
	Mid         float64       `json:"midprice"`
	WeightedMid float64       `json:"weightedMidprice"`
	Time        time.Time     `json:"time"`
}

func (b BboSnapshot) Bid() PriceLevel { return b.Levels[0] }
func (b BboSnapshot) Ask() PriceLevel { return b.Levels[1] }
func (b BboSnapshot) Spread() float64 { return b.Levels[1].Price.Float64() - b.Levels[0].Price.Float64() }

// NewBboSnapshot derives the midprice and the size-weighted midprice from a
// bid and an ask. The weighted mid leans toward the ask when bids dominate.
func NewBboSnapshot(bid, ask PriceLevel, ts time.Time) BboSnapshot {
	bid.Side, ask.Side = SideBid, SideAsk
	bp, ap := bid.Price.Float64(), ask.Price.Float64()
	bs, as := bid.Size.Float64(), ask.Size.Float64()

	bidShare := 0.5
	if total := bs + as; total > 0 {
		bidShare = bs / total
	}
	return BboSnapshot{
		Levels:      [2]PriceLevel{bid, ask},
		Mid:         (bp + ap) / 2,
		WeightedMid: ap*bidShare + bp*(1-bidShare),
		Time:        ts,
	}
}

// UpdateAction tags a ladder entry. The feed only sends full replacements, so
// everything parsed today is ActionInsert; Modify and Delete are reserved for
// incremental feeds and nothing applies them yet.
type UpdateAction uint8

const (
	ActionInsert UpdateAction = iota
	ActionModify
	ActionDelete
)

// BookLevelUpdate is one ladder entry of a full order-book snapshot.
type BookLevelUpdate struct {
	Action UpdateAction
	Price  float64
	Size   float64
	IsBid  bool
}

// ImbalanceStat is the market-pressure metric derived from the order book.
type ImbalanceStat struct {
	Ratio     float64   `json:"ratio"`
	Spread    float64   `json:"spread"`
	BestBid   float64   `json:"bestBid"`
	SecondBid float64   `json:"secondBid"`
	BestAsk   float64   `json:"bestAsk"`
	SecondAsk float64   `json:"secondAsk"`
	Time      time.Time `json:"time"`
}

// NeutralImbalance is reported when there is no book pressure to measure.
func NeutralImbalance(ts time.Time) ImbalanceStat {
	return ImbalanceStat{Ratio: 0.5, Time: ts}
}

type Trade struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Side   Side            `json:"side"`
	Time   time.Time       `json:"time"`
	TID    int64           `json:"tid,omitempty"`
}
