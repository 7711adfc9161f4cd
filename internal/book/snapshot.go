package book

import "time"

// Snapshot is a read-only copy of an OrderBook. Never mutate one after it has
// been published.
type Snapshot struct {
	Bids []Level   `json:"bids"`
	Asks []Level   `json:"asks"`
	Time time.Time `json:"time"`
}

func (s *Snapshot) BestBid() (Level, bool) {
	if s == nil || len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

func (s *Snapshot) BestAsk() (Level, bool) {
	if s == nil || len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Top returns at most n levels per side without copying.
func (s *Snapshot) Top(n int) (bids, asks []Level) {
	if s == nil {
		return nil, nil
	}
	bids, asks = s.Bids, s.Asks
	if n > 0 && n < len(bids) {
		bids = bids[:n]
	}
	if n > 0 && n < len(asks) {
		asks = asks[:n]
	}
	return bids, asks
}
