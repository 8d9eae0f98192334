package ordering

// StateUpdateResult reports the effect of inserting one or more batches
// into an MST State: which batches are now complete, and which had their
// signature set strictly grow.
type StateUpdateResult struct {
	Completed []*Batch
	Updated   []*Batch
}

func (r *StateUpdateResult) merge(other StateUpdateResult) {
	r.Completed = append(r.Completed, other.Completed...)
	r.Updated = append(r.Updated, other.Updated...)
}

// State is the MST batch-pending set: a collection of batches keyed by
// identity (ordered reduced-hash list), each carrying the union of
// signatures observed so far across all peers (spec §3/§4.3.1).
type State struct {
	batches map[string]*Batch
}

// NewState returns an empty MST state.
func NewState() *State {
	return &State{batches: make(map[string]*Batch)}
}

// Insert merges batch into the state: if a batch with the same identity is
// already present, their signature sets are unioned (ties on a shared
// reduced hash keep the first-seen batch object and union signatures into
// it, per spec §9's resolved open question); otherwise batch is added as a
// deep copy. Returns the batches that just became complete and the batches
// whose signature sets strictly grew.
func (s *State) Insert(batch *Batch) StateUpdateResult {
	id := batch.Identity()
	existing, ok := s.batches[id]
	if !ok {
		cp := batch.Clone()
		s.batches[id] = cp
		var res StateUpdateResult
		if cp.HasAnySignature() && cp.IsComplete() {
			res.Completed = append(res.Completed, cp)
		} else if cp.HasAnySignature() {
			res.Updated = append(res.Updated, cp)
		}
		return res
	}

	wasComplete := existing.IsComplete()
	updated := existing.mergeInto(batch)
	var res StateUpdateResult
	if updated {
		res.Updated = append(res.Updated, existing)
	}
	if !wasComplete && existing.IsComplete() {
		res.Completed = append(res.Completed, existing)
	}
	return res
}

// Merge folds Insert over every batch in other, returning the combined
// result.
func (s *State) Merge(other *State) StateUpdateResult {
	var total StateUpdateResult
	for _, b := range other.sortedBatches() {
		total.merge(s.Insert(b))
	}
	return total
}

// Diff returns the batches present in s but absent (by identity) from
// other.
func (s *State) Diff(other *State) *State {
	out := NewState()
	for id, b := range s.batches {
		if _, ok := other.batches[id]; !ok {
			out.batches[id] = b.Clone()
		}
	}
	return out
}

// EraseExpired removes and returns every batch expired at now, per
// expiryMS. Expiration is the only mechanism that drops a batch from MST
// state without completion (spec §4.3.3); callers must never treat an
// erased batch as completed even if it happened to satisfy quorum (spec
// §9's third open question).
func (s *State) EraseExpired(nowMS, expiryMS int64) []*Batch {
	var expired []*Batch
	for id, b := range s.batches {
		if b.IsExpiredAt(nowMS, expiryMS) {
			expired = append(expired, b)
			delete(s.batches, id)
		}
	}
	return expired
}

// Equals reports set equality on batch identity (signatures ignored).
func (s *State) Equals(other *State) bool {
	if len(s.batches) != len(other.batches) {
		return false
	}
	for id := range s.batches {
		if _, ok := other.batches[id]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of distinct pending batches.
func (s *State) Len() int { return len(s.batches) }

// Batches returns a snapshot slice of every pending batch, ordered by
// identity key (the same order sortedBatches gives Merge).
func (s *State) Batches() []*Batch {
	return s.sortedBatches()
}

// sortedBatches returns batches ordered by identity key so that Merge's
// fold is deterministic across runs (insertion order into a Go map is not).
func (s *State) sortedBatches() []*Batch {
	ids := make([]string, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	// simple insertion sort is fine: batch counts per gossip round are small.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := make([]*Batch, len(ids))
	for i, id := range ids {
		out[i] = s.batches[id]
	}
	return out
}
