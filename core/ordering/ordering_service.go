package ordering

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultNumberOfProposals is the retained-proposal window (spec §6.3).
const DefaultNumberOfProposals = 3

// DefaultTransactionLimit is the default max transactions per proposal.
const DefaultTransactionLimit = 1000

// OrderingServiceConfig carries the service's tunables.
type OrderingServiceConfig struct {
	NumberOfProposals int
	TransactionLimit  int
}

// roundQueue is the insertion-ordered, independently-locked queue of
// batches submitted for one open round.
type roundQueue struct {
	mu      sync.Mutex
	batches []*Batch
}

// Service maintains the per-round batch queues and packed-proposal window
// for on-demand ordering (spec §4.4).
type Service struct {
	mu sync.RWMutex

	cfg   OrderingServiceConfig
	clock Clock
	log   logrus.FieldLogger

	// currentProposals holds, for each of the three reachable open rounds,
	// the queue of submitted batches.
	currentProposals map[Round]*roundQueue
	// proposalMap holds already-packed proposals keyed by round.
	proposalMap map[Round]*Proposal
	// roundOrder is the insertion-ordered list of rounds with packed
	// proposals, bounded by NumberOfProposals.
	roundOrder []Round
}

// NewService constructs an ordering Service with the three rounds reachable
// from initialRound already open.
func NewService(initialRound Round, cfg OrderingServiceConfig, clock Clock, log logrus.FieldLogger) *Service {
	if cfg.NumberOfProposals <= 0 {
		cfg.NumberOfProposals = DefaultNumberOfProposals
	}
	if cfg.TransactionLimit <= 0 {
		cfg.TransactionLimit = DefaultTransactionLimit
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		cfg:              cfg,
		clock:            clock,
		log:              log,
		currentProposals: make(map[Round]*roundQueue),
		proposalMap:      make(map[Round]*Proposal),
	}
	for _, r := range reachableRounds(initialRound) {
		s.currentProposals[r] = &roundQueue{}
	}
	return s
}

// reachableRounds returns the three rounds {(block+i, reject+2-i) : i in 0..2}
// reachable from r, per spec §4.4 point 2.
func reachableRounds(r Round) []Round {
	return []Round{
		NewRound(r.BlockRound, r.RejectRound+2),
		NewRound(r.BlockRound+1, r.RejectRound+1),
		NewRound(r.BlockRound+2, r.RejectRound),
	}
}

// OnBatches appends batches to round's queue if that round is currently
// open; otherwise the batches are silently dropped (the round was already
// closed or is too far in the future). Takes a shared lock on the round
// table; the per-round queue has its own lock for the append itself.
func (s *Service) OnBatches(round Round, batches []*Batch) {
	s.mu.RLock()
	rq, open := s.currentProposals[round]
	s.mu.RUnlock()
	if !open {
		return
	}
	rq.mu.Lock()
	rq.batches = append(rq.batches, batches...)
	rq.mu.Unlock()
}

// OnRequestProposal returns a clone of the packed proposal for round, or
// nil if none exists. Takes a shared lock.
func (s *Service) OnRequestProposal(round Round) *Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposalMap[round]
	if !ok {
		return nil
	}
	cp := *p
	cp.Transactions = append([]*Transaction(nil), p.Transactions...)
	return &cp
}

// OnCollaborationOutcome advances ordering-service state for the consensus
// outcome reached at round (spec §4.4). Takes an exclusive lock; this is
// the single point that advances state.
func (s *Service) OnCollaborationOutcome(round Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closing := NewRound(round.BlockRound, round.RejectRound+1)
	s.packAndStore(closing)

	if round.RejectRound == FirstReject {
		// A commit was agreed: close the after-next-commit round too,
		// clear all open queues, and reopen the three rounds reachable
		// from the new commit round.
		s.packAndStore(NewRound(round.BlockRound+1, FirstReject))
		s.currentProposals = make(map[Round]*roundQueue)
		for _, r := range reachableRounds(NewRound(round.BlockRound+1, 0)) {
			s.currentProposals[r] = &roundQueue{}
		}
	} else {
		// A reject outcome: reopen exactly (round.block, round.reject+2).
		reopen := NewRound(round.BlockRound, round.RejectRound+2)
		s.currentProposals[reopen] = &roundQueue{}
	}

	for len(s.roundOrder) > s.cfg.NumberOfProposals {
		oldest := s.roundOrder[0]
		s.roundOrder = s.roundOrder[1:]
		delete(s.proposalMap, oldest)
	}
}

// packAndStore drains round's queue (if open) into a freshly packed
// proposal and stores it in proposalMap/roundOrder. A round with no open
// queue, or an empty one, still packs to an empty proposal rather than
// being skipped — "close whatever batches sit in that slot". A round
// already present in proposalMap is left untouched: its queue was already
// drained and closed by an earlier call, so re-packing it here would
// overwrite the stored proposal with an empty one and break idempotence of
// repeated OnCollaborationOutcome(round) calls with no intervening
// OnBatches (spec §8).
func (s *Service) packAndStore(round Round) {
	if _, exists := s.proposalMap[round]; exists {
		return
	}

	var batches []*Batch
	if rq, open := s.currentProposals[round]; open {
		rq.mu.Lock()
		batches = rq.batches
		rq.mu.Unlock()
		delete(s.currentProposals, round)
	}

	txs := packTransactions(batches, s.cfg.TransactionLimit)
	proposal := &Proposal{
		Height:       round.BlockRound,
		CreatedAtMS:  s.clock.NowMS(),
		Transactions: txs,
	}
	s.roundOrder = append(s.roundOrder, round)
	s.proposalMap[round] = proposal
}

// packTransactions drains up to limit transactions from batches, in order,
// de-duplicating by batch identity so a batch seen twice contributes only
// once (spec §4.4 "Proposal packing", P3).
func packTransactions(batches []*Batch, limit int) []*Transaction {
	seen := make(map[string]struct{}, len(batches))
	var out []*Transaction
	for _, b := range batches {
		id := b.Identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, tx := range b.Transactions {
			if len(out) >= limit {
				return out
			}
			out = append(out, tx)
		}
	}
	return out
}
