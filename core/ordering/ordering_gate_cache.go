package ordering

import "sync"

// GateCache is the ordering gate's bounded three-slot FIFO: head (current
// round), middle (one-ahead), tail (two-ahead) (spec §4.1 "Ordering-gate
// cache"). AddToBack unions into the tail; Pop rotates head out and appends
// a fresh empty tail; Remove erases any batch fully covered by a hash set.
type GateCache struct {
	mu    sync.RWMutex
	slots [3]map[string]*Batch
}

// NewGateCache returns an empty three-slot cache.
func NewGateCache() *GateCache {
	c := &GateCache{}
	for i := range c.slots {
		c.slots[i] = make(map[string]*Batch)
	}
	return c
}

// AddToBack unions batch into the tail slot: a batch sharing identity with
// one already in the tail has its signatures merged in, rather than being
// duplicated (mirrors the MST state's union semantics, spec §4.1/§4.3).
func (c *GateCache) AddToBack(batch *Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tail := c.slots[2]
	id := batch.Identity()
	if existing, ok := tail[id]; ok {
		existing.mergeInto(batch)
		return
	}
	tail[id] = batch.Clone()
}

// Pop returns the head slot's batches and rotates: head <- middle,
// middle <- tail, tail <- a new empty slot.
func (c *GateCache) Pop() []*Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.slots[0]
	c.slots[0] = c.slots[1]
	c.slots[1] = c.slots[2]
	c.slots[2] = make(map[string]*Batch)

	out := make([]*Batch, 0, len(head))
	for _, b := range head {
		out = append(out, b)
	}
	return out
}

// Remove erases every batch, in any slot, all of whose transaction hashes
// are present in hashes.
func (c *GateCache) Remove(hashes map[Hash]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range c.slots {
		for id, b := range slot {
			if batchFullyCovered(b, hashes) {
				delete(slot, id)
			}
		}
	}
}

func batchFullyCovered(b *Batch, hashes map[Hash]struct{}) bool {
	for _, tx := range b.Transactions {
		if _, ok := hashes[tx.ReducedHash]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns the batches currently held across all three slots, in
// head/middle/tail order, for diagnostics and tests.
func (c *GateCache) Snapshot() [][]*Batch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]*Batch, len(c.slots))
	for i, slot := range c.slots {
		s := make([]*Batch, 0, len(slot))
		for _, b := range slot {
			s = append(s, b)
		}
		out[i] = s
	}
	return out
}

// Len returns the total number of distinct batches held across all slots.
func (c *GateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, slot := range c.slots {
		n += len(slot)
	}
	return n
}
