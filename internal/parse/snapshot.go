package parse

import (
	"bytes"
	"fmt"
	"strconv"

	"market-pulse/internal/market"
)

// DefaultMaxLevels is the sanity limit on level updates per snapshot.
const DefaultMaxLevels = 1000

var (
	levelsMarker = []byte(`"levels":`)
	outerOpen    = []byte("[[")
	halfSep      = []byte("],[")
	outerClose   = []byte("]]")
	pxKey        = []byte(`"px":"`)
	szKey        = []byte(`"sz":"`)
)

// BookSnapshotParser decodes full order-book replacement messages of the form
// "levels":[[{bid}...],[{ask}...]]. Level counts vary between messages, so
// fields are located by direct substring search.
type BookSnapshotParser struct {
	MaxLevels int
}

func NewBookSnapshotParser(maxLevels int) *BookSnapshotParser {
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}
	return &BookSnapshotParser{MaxLevels: maxLevels}
}

// Parse appends every ladder entry to dst[:0]. A message without a "levels"
// key yields no updates and no error.
func (p *BookSnapshotParser) Parse(msg []byte, dst []market.BookLevelUpdate) ([]market.BookLevelUpdate, error) {
	dst = dst[:0]
	k := bytes.Index(msg, levelsMarker)
	if k < 0 {
		return dst, nil
	}
	rest := msg[k+len(levelsMarker):]

	open := bytes.Index(rest, outerOpen)
	if open < 0 {
		return dst, malformed("levels: missing %q", outerOpen)
	}
	rest = rest[open+len(outerOpen):]

	sep := bytes.Index(rest, halfSep)
	if sep < 0 {
		return dst, malformed("levels: missing bid/ask separator")
	}
	closing := bytes.Index(rest[sep:], outerClose)
	if closing < 0 {
		return dst, malformed("levels: missing %q", outerClose)
	}
	bids := rest[:sep]
	asks := rest[sep+len(halfSep) : sep+closing]

	var err error
	if dst, err = p.parseHalf(bids, true, dst); err != nil {
		return dst, err
	}
	if dst, err = p.parseHalf(asks, false, dst); err != nil {
		return dst, err
	}
	return dst, nil
}

func (p *BookSnapshotParser) parseHalf(half []byte, isBid bool, dst []market.BookLevelUpdate) ([]market.BookLevelUpdate, error) {
	for len(half) > 0 {
		open := bytes.IndexByte(half, '{')
		if open < 0 {
			break
		}
		closing := bytes.IndexByte(half[open:], '}')
		if closing < 0 {
			return dst, malformed("levels: unterminated level object")
		}
		if len(dst) >= p.MaxLevels {
			return dst, fmt.Errorf("%w: more than %d levels", ErrOversizedSnapshot, p.MaxLevels)
		}
		obj := half[open : open+closing+1]

		price, err := quotedFloat(obj, pxKey)
		if err != nil {
			return dst, err
		}
		size, err := quotedFloat(obj, szKey)
		if err != nil {
			return dst, err
		}
		dst = append(dst, market.BookLevelUpdate{
			Action: market.ActionInsert,
			Price:  price,
			Size:   size,
			IsBid:  isBid,
		})
		half = half[open+closing+1:]
	}
	return dst, nil
}

func quotedFloat(obj, key []byte) (float64, error) {
	i := bytes.Index(obj, key)
	if i < 0 {
		return 0, malformed("level: missing %s", key)
	}
	v := obj[i+len(key):]
	end := bytes.IndexByte(v, '"')
	if end < 0 {
		return 0, malformed("level: unterminated %s", key)
	}
	f, err := strconv.ParseFloat(string(v[:end]), 64)
	if err != nil || f < 0 {
		return 0, malformed("level: bad value for %s %q", key, v[:end])
	}
	return f, nil
}
