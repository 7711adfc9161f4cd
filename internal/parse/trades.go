package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
)

var timeMarker = []byte(`"time":`)

// Timestamp reads the first "time" field of msg as epoch milliseconds.
func Timestamp(msg []byte) (time.Time, error) {
	i := bytes.Index(msg, timeMarker)
	if i < 0 {
		return time.Time{}, malformed("missing time")
	}
	ms, ok := parseUint(msg, skipToValue(msg, i+len(timeMarker)))
	if !ok {
		return time.Time{}, malformed("bad time")
	}
	return time.UnixMilli(ms), nil
}

type wireTrade struct {
	Coin string          `json:"coin"`
	Side string          `json:"side"`
	Px   decimal.Decimal `json:"px"`
	Sz   decimal.Decimal `json:"sz"`
	Time int64           `json:"time"`
	TID  int64           `json:"tid"`
}

type tradesEnvelope struct {
	Channel string      `json:"channel"`
	Data    []wireTrade `json:"data"`
}

// ParseTrades decodes a trades batch. Trades are off the latency-critical
// path and are handed to persistence, so this uses the regular decoder.
func ParseTrades(msg []byte, dst []market.Trade) ([]market.Trade, error) {
	dst = dst[:0]
	var env tradesEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return dst, fmt.Errorf("%w: trades: %v", ErrMalformedMessage, err)
	}
	for i, t := range env.Data {
		side, ok := market.ParseSide(t.Side)
		if !ok {
			return dst, malformed("trade %d: unknown side %q", i, t.Side)
		}
		if t.Px.IsNegative() || t.Sz.IsNegative() {
			return dst, malformed("trade %d: negative price or size", i)
		}
		dst = append(dst, market.Trade{
			Symbol: t.Coin,
			Price:  t.Px,
			Size:   t.Sz,
			Side:   side,
			Time:   time.UnixMilli(t.Time),
			TID:    t.TID,
		})
	}
	return dst, nil
}
