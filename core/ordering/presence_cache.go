package ordering

import (
	"fmt"
	"sync"
)

// PresenceKind tags the outcome of an authoritative transaction-presence
// lookup.
type PresenceKind int

const (
	PresenceCommitted PresenceKind = iota
	PresenceRejected
	PresenceMissing
)

// PresenceStatus is the tagged result of a presence-cache lookup for a
// single transaction hash.
type PresenceStatus struct {
	Hash Hash
	Kind PresenceKind
}

// IsAlreadyProcessed reports whether the status represents a terminal
// ledger outcome (Committed or Rejected), per spec §3.
func (p PresenceStatus) IsAlreadyProcessed() bool {
	return p.Kind == PresenceCommitted || p.Kind == PresenceRejected
}

// PresenceCache is the authoritative hash -> {Committed,Rejected,Missing}
// lookup consulted by the ordering gate (advisory, to strip replays) and by
// the command service (authoritative, for cold status-stream seeding).
// Implementations must be safe for concurrent readers.
type PresenceCache interface {
	// Check returns the presence status of a single hash. A nil error with
	// a nil status never happens; a non-nil error means the backing store
	// itself failed (spec §4.2), distinct from a Missing result.
	Check(hash Hash) (*PresenceStatus, error)
	// CheckBatch returns one status per input hash, in the same order.
	CheckBatch(hashes []Hash) ([]*PresenceStatus, error)
}

// MemoryPresenceCache is a concurrency-safe, map-backed PresenceCache
// default. A production deployment backs this interface with the ledger's
// world-state view instead (out of scope, spec §1).
type MemoryPresenceCache struct {
	mu        sync.RWMutex
	committed map[Hash]struct{}
	rejected  map[Hash]struct{}
	// failing, when non-nil, is returned verbatim from Check/CheckBatch to
	// simulate a backing-store outage in tests.
	failing error
}

// NewMemoryPresenceCache returns an empty in-memory presence cache.
func NewMemoryPresenceCache() *MemoryPresenceCache {
	return &MemoryPresenceCache{
		committed: make(map[Hash]struct{}),
		rejected:  make(map[Hash]struct{}),
	}
}

// MarkCommitted records hash as committed.
func (c *MemoryPresenceCache) MarkCommitted(hash Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[hash] = struct{}{}
	delete(c.rejected, hash)
}

// MarkRejected records hash as rejected.
func (c *MemoryPresenceCache) MarkRejected(hash Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected[hash] = struct{}{}
	delete(c.committed, hash)
}

// SetFailing makes subsequent Check/CheckBatch calls return err, simulating
// StorageUnavailable (spec §7). Pass nil to clear.
func (c *MemoryPresenceCache) SetFailing(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = err
}

func (c *MemoryPresenceCache) Check(hash Hash) (*PresenceStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.failing != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, c.failing)
	}
	if _, ok := c.committed[hash]; ok {
		return &PresenceStatus{Hash: hash, Kind: PresenceCommitted}, nil
	}
	if _, ok := c.rejected[hash]; ok {
		return &PresenceStatus{Hash: hash, Kind: PresenceRejected}, nil
	}
	return &PresenceStatus{Hash: hash, Kind: PresenceMissing}, nil
}

func (c *MemoryPresenceCache) CheckBatch(hashes []Hash) ([]*PresenceStatus, error) {
	out := make([]*PresenceStatus, len(hashes))
	for i, h := range hashes {
		st, err := c.Check(h)
		if err != nil {
			return nil, err
		}
		out[i] = st
	}
	return out, nil
}
