package syncmsg

import "sync"

// dedupCapacity bounds remembered timestamps per sender. Once exceeded,
// the oldest timestamp is forgotten; a redelivery older than the window
// is then treated as new, which is the accepted cost of bounded memory.
const dedupCapacity = 1024

// dedupCache tracks message timestamps already seen per sender. It is
// owned by the Gateway and bounded, never a package global.
type dedupCache struct {
	mu      sync.Mutex
	senders map[string]*timestampRing
}

func newDedupCache() *dedupCache {
	return &dedupCache{senders: make(map[string]*timestampRing)}
}

// seen reports whether (sender, timestamp) was observed before, then
// records it. A message is therefore only reported duplicate from its
// second occurrence on. Timestamp 0 is never a duplicate.
func (c *dedupCache) seen(sender string, timestamp uint64) bool {
	if timestamp == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ring, ok := c.senders[sender]
	if !ok {
		ring = newTimestampRing(dedupCapacity)
		c.senders[sender] = ring
	}
	dup := ring.contains(timestamp)
	ring.insert(timestamp)
	return dup
}

// timestampRing is a fixed-capacity set of timestamps with FIFO eviction.
type timestampRing struct {
	buf []uint64
	set map[uint64]int // timestamp -> occurrence count in buf
	pos int
	n   int
}

func newTimestampRing(capacity int) *timestampRing {
	return &timestampRing{
		buf: make([]uint64, capacity),
		set: make(map[uint64]int, capacity),
	}
}

func (r *timestampRing) contains(ts uint64) bool {
	return r.set[ts] > 0
}

func (r *timestampRing) insert(ts uint64) {
	if r.n == len(r.buf) {
		evicted := r.buf[r.pos]
		if r.set[evicted] <= 1 {
			delete(r.set, evicted)
		} else {
			r.set[evicted]--
		}
	} else {
		r.n++
	}
	r.buf[r.pos] = ts
	r.set[ts]++
	r.pos = (r.pos + 1) % len(r.buf)
}
