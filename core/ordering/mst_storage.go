package ordering

import "sync"

// PeerID identifies a peer for MST peer-state bookkeeping.
type PeerID string

// Storage holds one node's own MST state plus one state per known peer,
// serialized under a single lock (spec §4.3.2, §5).
type Storage struct {
	mu    sync.Mutex
	own   *State
	peers map[PeerID]*State
}

// NewStorage returns empty MST storage.
func NewStorage() *Storage {
	return &Storage{own: NewState(), peers: make(map[PeerID]*State)}
}

// UpdateOwn inserts batch into the node's own state.
func (s *Storage) UpdateOwn(batch *Batch) StateUpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own.Insert(batch)
}

// Apply inserts other's state into the named peer's tracked state, then
// into own state, returning the combined result of both insertions.
func (s *Storage) Apply(peer PeerID, other *State) StateUpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	peerState, ok := s.peers[peer]
	if !ok {
		peerState = NewState()
		s.peers[peer] = peerState
	}
	res := peerState.Merge(other)
	res.merge(s.own.Merge(other))
	return res
}

// GetDiffState returns own minus the named peer's tracked state, with
// expired batches removed from the diff before it is handed to a caller
// for transport (spec §4.3.2).
func (s *Storage) GetDiffState(peer PeerID, nowMS, expiryMS int64) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	peerState, ok := s.peers[peer]
	if !ok {
		peerState = NewState()
	}
	diff := s.own.Diff(peerState)
	diff.EraseExpired(nowMS, expiryMS)
	return diff
}

// ExtractExpired removes and returns every batch expired at nowMS from own
// state.
func (s *Storage) ExtractExpired(nowMS, expiryMS int64) []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own.EraseExpired(nowMS, expiryMS)
}

// WhatsNew returns other minus own: batches the caller doesn't have yet.
func (s *Storage) WhatsNew(other *State) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return other.Diff(s.own)
}

// OwnSnapshot returns a defensive copy of the node's own pending batches.
func (s *Storage) OwnSnapshot() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Batch, 0, s.own.Len())
	for _, b := range s.own.Batches() {
		out = append(out, b.Clone())
	}
	return out
}
