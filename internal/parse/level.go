package parse

import (
	"bytes"
	"fmt"

	"market-pulse/internal/market"
)

// key is a literal field key located by a positional hash search. rel is the
// offset of this key from the previous key seen in the last parsed fragment.
type key struct {
	text []byte
	hash uint64
	rel  int
}

func newKey(text string, rel int) key {
	b := []byte(text)
	return key{text: b, hash: windowHash(b), rel: rel}
}

func windowHash(b []byte) uint64 {
	var h uint64
	for i, c := range b {
		h += uint64(c) << (5 * uint(i+1))
	}
	return h
}

func (k *key) matchAt(b []byte, i int) bool {
	w := b[i : i+len(k.text)]
	return windowHash(w) == k.hash && bytes.Equal(w, k.text)
}

// find probes outward from prev+rel, alternating left and right, until the
// whole fragment has been covered.
func (k *key) find(b []byte, prev int) (int, error) {
	last := len(b) - len(k.text)
	if last < 0 {
		return -1, fmt.Errorf("%w: %s", ErrKeyNotFound, k.text)
	}
	left := min(max(prev+k.rel, 0), last)
	right := left + 1
	for left >= 0 || right <= last {
		if left >= 0 && k.matchAt(b, left) {
			return left, nil
		}
		if right <= last && k.matchAt(b, right) {
			return right, nil
		}
		left--
		right++
	}
	return -1, fmt.Errorf("%w: %s", ErrKeyNotFound, k.text)
}

// LevelParser decodes best-bid/offer level objects such as
// {"px":"51010.5","sz":"0.1234","n":3}. It learns where each key sits
// relative to the previous one, so once the exchange layout is stable every
// key is found on the first probe. A LevelParser is not safe for concurrent
// use; give each feed goroutine its own.
type LevelParser struct {
	price  key
	size   key
	orders key
}

func NewLevelParser() *LevelParser {
	const px, sz, n = `"px":"`, `"sz":"`, `"n":`
	return &LevelParser{
		price:  newKey(px, 0),
		size:   newKey(sz, len(px)+1),
		orders: newKey(n, len(sz)+1),
	}
}

// Offsets reports the learned relative key offsets (price from fragment
// start, size from price, order count from size).
func (p *LevelParser) Offsets() (price, size, orders int) {
	return p.price.rel, p.size.rel, p.orders.rel
}

// ParseLevel decodes one level object. Price keeps two fractional digits and
// size four, both truncated.
func (p *LevelParser) ParseLevel(frag []byte) (market.PriceLevel, error) {
	var lvl market.PriceLevel

	pp, err := p.price.find(frag, 0)
	if err != nil {
		return lvl, err
	}
	p.price.rel = pp
	v, ok := fixedPoint(frag, skipToValue(frag, pp+len(p.price.text)), 2)
	if !ok {
		return lvl, malformed("level price")
	}
	lvl.Price = market.Price(v)

	sp, err := p.size.find(frag, pp)
	if err != nil {
		return lvl, err
	}
	p.size.rel = sp - pp
	v, ok = fixedPoint(frag, skipToValue(frag, sp+len(p.size.text)), 4)
	if !ok {
		return lvl, malformed("level size")
	}
	lvl.Size = market.Size(v)

	np, err := p.orders.find(frag, sp)
	if err != nil {
		return lvl, err
	}
	p.orders.rel = np - sp
	v, ok = parseUint(frag, skipToValue(frag, np+len(p.orders.text)))
	if !ok {
		return lvl, malformed("level order count")
	}
	lvl.Orders = int(v)

	return lvl, nil
}

var (
	bboMarker = []byte(`"bbo":[`)
	nullValue = []byte("null")
)

// ParseBBO decodes every level object in the message's "bbo" array into dst.
// Levels are tagged by array position (bid then ask); null entries are
// skipped but still occupy their position.
func (p *LevelParser) ParseBBO(msg []byte, dst []market.PriceLevel) ([]market.PriceLevel, error) {
	dst = dst[:0]
	i := bytes.Index(msg, bboMarker)
	if i < 0 {
		return dst, malformed("missing bbo array")
	}
	body := msg[i+len(bboMarker):]
	end := bytes.IndexByte(body, ']')
	if end < 0 {
		return dst, malformed("unterminated bbo array")
	}
	body = body[:end]

	// idx is the array position: 0 is the bid side, 1 the ask side.
	for idx := 0; len(body) > 0; idx++ {
		body = bytes.TrimLeft(body, " \t\r\n")
		if bytes.HasPrefix(body, nullValue) {
			body = body[len(nullValue):]
		} else if len(body) > 0 && body[0] == '{' {
			closing := bytes.IndexByte(body, '}')
			if closing < 0 {
				return dst, malformed("unterminated bbo level")
			}
			lvl, err := p.ParseLevel(body[:closing+1])
			if err != nil {
				return dst, err
			}
			lvl.Side = market.SideBid
			if idx > 0 {
				lvl.Side = market.SideAsk
			}
			dst = append(dst, lvl)
			body = body[closing+1:]
		} else if len(body) > 0 {
			return dst, malformed("unexpected bbo entry %q", body)
		}
		comma := bytes.IndexByte(body, ',')
		if comma < 0 {
			break
		}
		body = body[comma+1:]
	}
	return dst, nil
}
