package parse

import (
	"math"

	"market-pulse/internal/market"
)

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// mulAdd returns v*10+d, or false if that overflows int64.
func mulAdd(v, d int64) (int64, bool) {
	if v > (math.MaxInt64-d)/10 {
		return 0, false
	}
	return v*10 + d, true
}

// skipToValue moves past the separators that can sit between a key and its
// value.
func skipToValue(b []byte, i int) int {
	for i < len(b) && (b[i] == ':' || b[i] == ' ' || b[i] == '"' || b[i] == '\\') {
		i++
	}
	return i
}

// fixedPoint decodes an unsigned decimal starting at b[i] into an integer
// scaled by 10^frac. Extra fractional digits are truncated, missing ones are
// zero-filled. ok is false when no integer digit is present or the scaled
// value does not fit in an int64.
func fixedPoint(b []byte, i int, frac int) (v int64, ok bool) {
	start := i
	for i < len(b) && isDigit(b[i]) {
		if v, ok = mulAdd(v, int64(b[i]-'0')); !ok {
			return 0, false
		}
		i++
	}
	if i == start {
		return 0, false
	}
	if i < len(b) && b[i] == '.' {
		i++
	}
	for n := 0; n < frac; n++ {
		var d int64
		if i < len(b) && isDigit(b[i]) {
			d = int64(b[i] - '0')
			i++
		}
		if v, ok = mulAdd(v, d); !ok {
			return 0, false
		}
	}
	return v, true
}

// ParsePrice decodes a price with exactly two fractional digits, truncating.
func ParsePrice(b []byte) (market.Price, error) {
	v, ok := fixedPoint(b, 0, 2)
	if !ok {
		return 0, malformed("price %q", b)
	}
	return market.Price(v), nil
}

// ParseSize decodes a size with exactly four fractional digits, truncating.
func ParseSize(b []byte) (market.Size, error) {
	v, ok := fixedPoint(b, 0, 4)
	if !ok {
		return 0, malformed("size %q", b)
	}
	return market.Size(v), nil
}

func parseUint(b []byte, i int) (int64, bool) {
	start := i
	var v int64
	for i < len(b) && isDigit(b[i]) {
		var ok bool
		if v, ok = mulAdd(v, int64(b[i]-'0')); !ok {
			return 0, false
		}
		i++
	}
	return v, i > start
}
