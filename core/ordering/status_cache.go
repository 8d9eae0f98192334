package ordering

import lru "github.com/hashicorp/golang-lru/v2"

// DefaultStatusCacheSize bounds the command service's in-memory status
// cache (spec §4.7.2).
const DefaultStatusCacheSize = 100_000

// StatusCache is the command service's bounded in-memory hash->Status
// lookup, consulted by get_status before falling back to the presence
// cache (spec §4.7.2).
type StatusCache struct {
	cache *lru.Cache[Hash, Status]
}

// NewStatusCache constructs a StatusCache holding at most size entries,
// evicting least-recently-used ones beyond that.
func NewStatusCache(size int) (*StatusCache, error) {
	if size <= 0 {
		size = DefaultStatusCacheSize
	}
	c, err := lru.New[Hash, Status](size)
	if err != nil {
		return nil, err
	}
	return &StatusCache{cache: c}, nil
}

// Get returns the cached status for hash, if present.
func (c *StatusCache) Get(hash Hash) (Status, bool) {
	return c.cache.Get(hash)
}

// Put records s as the latest known status for its hash, subject to the
// same priority-monotonicity rule as the bus (spec §4.7.1): a lower-priority
// status is ignored.
func (c *StatusCache) Put(s Status) {
	if prev, ok := c.cache.Get(s.Hash); ok && s.Priority() < prev.Priority() {
		return
	}
	c.cache.Add(s.Hash, s)
}
