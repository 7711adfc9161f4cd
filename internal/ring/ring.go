// Package ring implements a lossy single-producer/multi-consumer broadcast
// channel. Readers keep their own cursor and poll without blocking; a reader
// that falls more than Cap() events behind skips to the oldest retained event.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrInvalidCapacity = errors.New("ring: capacity must be a power of two")

// maxReadRetries bounds how long TryRead waits on a slot the producer is
// still writing before reporting nothing available.
const maxReadRetries = 64

type slot[T any] struct {
	// stamp is 2*seq+1 while seq is being written and 2*seq+2 once it is complete.
	stamp atomic.Uint64
	val   T
}

// Channel is a fixed-capacity circular buffer written by exactly one goroutine
// and read by any number of independent cursors. T should be a plain value
// type: readers copy it out of the slot and validate the copy afterwards.
type Channel[T any] struct {
	// published is the number of completed Publish calls; keep it on its own
	// cache line so readers polling it do not contend with slot writes.
	_pad0     [64]byte
	published atomic.Uint64
	_pad1     [56]byte

	slots []slot[T]
	mask  uint64
}

// Cursor is a reader's position in a Channel. It must not be shared between
// goroutines.
type Cursor struct {
	seq     uint64
	skipped uint64
}

// Seq returns the next sequence the cursor will read.
func (c *Cursor) Seq() uint64 { return c.seq }

// Skipped returns how many events this cursor lost by being lapped.
func (c *Cursor) Skipped() uint64 { return c.skipped }

func New[T any](capacity int) (*Channel[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Channel[T]{
		slots: make([]slot[T], capacity),
		mask:  uint64(capacity - 1),
	}, nil
}

// Publish stores v and makes it visible to readers. Single writer only; it
// never blocks and always overwrites the oldest slot.
func (ch *Channel[T]) Publish(v T) {
	seq := ch.published.Load()
	s := &ch.slots[seq&ch.mask]
	// Readers copy val without synchronisation and trust the copy only if the
	// stamp is the same even value before and after. That depends on the odd
	// stamp being visible no later than the payload store.
	s.stamp.Store(2*seq + 1)
	s.val = v
	s.stamp.Store(2*seq + 2)
	ch.published.Store(seq + 1)
}

// NewCursor returns a cursor positioned at the current producer sequence, so
// it only observes events published after this call.
func (ch *Channel[T]) NewCursor() *Cursor {
	return &Cursor{seq: ch.published.Load()}
}

// TryRead copies the next event for c into out and advances c. It returns
// false without blocking when c is caught up, or when the next slot is still
// being written after a bounded number of retries; c is not advanced then.
func (ch *Channel[T]) TryRead(c *Cursor, out *T) bool {
	capacity := uint64(len(ch.slots))
	for retry := 0; retry < maxReadRetries; retry++ {
		head := ch.published.Load()
		if c.seq >= head {
			return false
		}
		if head-c.seq > capacity {
			oldest := head - capacity
			c.skipped += oldest - c.seq
			c.seq = oldest
		}

		s := &ch.slots[c.seq&ch.mask]
		want := 2*c.seq + 2
		if s.stamp.Load() != want {
			// lapped while we looked; re-read head and jump forward
			continue
		}
		v := s.val
		if s.stamp.Load() != want {
			continue
		}
		*out = v
		c.seq++
		return true
	}
	return false
}

// Drain reads every event currently available to c and hands each to fn in
// publish order. It returns the number of events read.
func (ch *Channel[T]) Drain(c *Cursor, fn func(T)) int {
	var v T
	n := 0
	for ch.TryRead(c, &v) {
		fn(v)
		n++
	}
	return n
}

// Latest drains c and keeps only the most recent event.
func (ch *Channel[T]) Latest(c *Cursor) (T, bool) {
	var v, last T
	ok := false
	for ch.TryRead(c, &v) {
		last = v
		ok = true
	}
	return last, ok
}

// Lag reports producer sequence minus cursor. It may exceed Cap() for a
// reader that has been lapped and not read since.
func (ch *Channel[T]) Lag(c *Cursor) uint64 {
	head := ch.published.Load()
	if c.seq >= head {
		return 0
	}
	return head - c.seq
}

func (ch *Channel[T]) Cap() int          { return len(ch.slots) }
func (ch *Channel[T]) Published() uint64 { return ch.published.Load() }
