package ordering

import "time"

// Clock abstracts wall-clock access so MST expiration and proposal
// creation-time stamping are deterministic in tests. Grounded on the
// original implementation's injectable MST time provider
// (irohad/multi_sig_transactions/mst_time_provider_impl.hpp), which the
// distilled spec only alludes to via the "expiration predicate" in §4.3.1.
type Clock interface {
	NowMS() int64
}

// systemClock is the production Clock backed by time.Now.
type systemClock struct{}

// SystemClock returns the real wall-clock Clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) NowMS() int64 {
	return time.Now().UnixMilli()
}
