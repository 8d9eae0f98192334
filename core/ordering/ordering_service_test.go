package ordering

import "testing"

func newTestService(t *testing.T, initial Round, txLimit int) *Service {
	t.Helper()
	clock := &fakeClock{now: 5000}
	return NewService(initial, OrderingServiceConfig{TransactionLimit: txLimit}, clock, nil)
}

func TestServiceOnBatchesClosedRoundDropped(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	closedRound := NewRound(99, 99)
	s.OnBatches(closedRound, []*Batch{mkBatch(mkTx(1, 1, "a"))})
	p := s.OnRequestProposal(closedRound)
	if p != nil {
		t.Fatalf("batches for a closed round must never produce a proposal")
	}
}

func TestServiceCommitOutcomeReopensThreeRounds(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	// initial reachable rounds from (1,1): (1,3), (2,2), (3,1)
	commitRound := NewRound(1, FirstReject)
	// submit a batch to the round that will be closed: (commitRound.block, commitRound.reject+1) = (1,2)
	// that round is not open initially (open set is (1,3),(2,2),(3,1)), so it is dropped; this
	// still exercises close-of-not-open producing an empty proposal.
	s.OnCollaborationOutcome(commitRound)

	closingRound := NewRound(1, 2)
	p := s.OnRequestProposal(closingRound)
	if p == nil {
		t.Fatalf("expected an (empty) proposal for the closed round")
	}
	if len(p.Transactions) != 0 {
		t.Fatalf("expected empty proposal, got %d txs", len(p.Transactions))
	}

	// after a commit outcome, the after-next-commit round (2,1) closes too.
	afterNext := NewRound(2, FirstReject)
	if s.OnRequestProposal(afterNext) == nil {
		t.Fatalf("expected the after-next-commit round to also close")
	}

	// and the three rounds reachable from (2,0) are now open: (2,2),(3,1),(4,0)
	reopened := reachableRounds(NewRound(2, 0))
	s.OnBatches(reopened[0], []*Batch{mkBatch(mkTx(5, 1, "z"))})
	s.OnCollaborationOutcome(NewRound(2, FirstReject))
	p2 := s.OnRequestProposal(NewRound(2, 2))
	if p2 == nil || len(p2.Transactions) != 1 {
		t.Fatalf("expected reopened round's batch to be packed, got %+v", p2)
	}
}

func TestServiceRejectOutcomeReopensOneRound(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	rejectRound := NewRound(1, 2)
	s.OnCollaborationOutcome(rejectRound)

	closingRound := NewRound(1, 3)
	if s.OnRequestProposal(closingRound) == nil {
		t.Fatalf("expected the closing round to produce a proposal")
	}

	reopened := NewRound(1, 4)
	s.OnBatches(reopened, []*Batch{mkBatch(mkTx(9, 1, "z"))})
	s.OnCollaborationOutcome(NewRound(1, 3))
	p := s.OnRequestProposal(NewRound(1, 4))
	if p == nil || len(p.Transactions) != 1 {
		t.Fatalf("expected reopened reject round's batch to be packed, got %+v", p)
	}
}

func TestServiceTransactionLimitNotCarriedOver(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 2)
	open := reachableRounds(NewRound(1, 1))[0] // (1,3)
	batches := []*Batch{
		mkBatch(mkTx(1, 1, "a")),
		mkBatch(mkTx(2, 1, "a")),
		mkBatch(mkTx(3, 1, "a")),
	}
	s.OnBatches(open, batches)
	// closing = (round.block, round.reject+1); use round=(1,2) so closing=(1,3)=open.
	s.OnCollaborationOutcome(NewRound(1, 2))
	p := s.OnRequestProposal(NewRound(1, 3))
	if p == nil {
		t.Fatalf("expected proposal")
	}
	if len(p.Transactions) != 2 {
		t.Fatalf("expected exactly TRANSACTION_LIMIT=2 txs, got %d", len(p.Transactions))
	}
}

func TestServiceBatchDedup(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	open := reachableRounds(NewRound(1, 1))[0] // (1,3)
	b := mkBatch(mkTx(1, 1, "a"), mkTx(2, 1, "a"))
	// submit the same batch identity twice.
	s.OnBatches(open, []*Batch{b, b})
	s.OnCollaborationOutcome(NewRound(1, 2))
	p := s.OnRequestProposal(NewRound(1, 3))
	if len(p.Transactions) != 2 {
		t.Fatalf("duplicate batch submission must contribute once, got %d txs", len(p.Transactions))
	}
}

// TestServiceOverflowEviction matches Scenario E of spec.md §8: five
// consecutive (here: reject) outcomes each close exactly one round, and
// with NUMBER_OF_PROPOSALS=3 only the last three remain retrievable.
func TestServiceOverflowEviction(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	var closingRounds []Round
	for i := 0; i < 5; i++ {
		round := NewRound(1, uint32(i+2)) // reject outcome: reject != FirstReject
		closing := NewRound(1, uint32(i+3))
		s.OnBatches(closing, []*Batch{mkBatch(mkTx(byte(i+1), 1, "a"))})
		s.OnCollaborationOutcome(round)
		closingRounds = append(closingRounds, closing)
	}
	for i, round := range closingRounds {
		p := s.OnRequestProposal(round)
		if i < len(closingRounds)-DefaultNumberOfProposals {
			if p != nil {
				t.Fatalf("round %d (%v) should have been evicted", i, round)
			}
		} else {
			if p == nil || len(p.Transactions) != 1 {
				t.Fatalf("round %d (%v) should still be retrievable with its batch, got %+v", i, round, p)
			}
		}
	}
}

func TestServiceOnCollaborationOutcomeIdempotentWithoutBatches(t *testing.T) {
	s := newTestService(t, NewRound(1, 1), 100)
	r := NewRound(1, FirstReject)
	s.OnCollaborationOutcome(r)
	p1 := s.OnRequestProposal(NewRound(1, 2))
	s.OnCollaborationOutcome(r)
	p2 := s.OnRequestProposal(NewRound(1, 2))
	if p1 == nil || p2 == nil {
		t.Fatalf("expected both calls to produce a retrievable proposal")
	}
	if len(p1.Transactions) != len(p2.Transactions) {
		t.Fatalf("idempotent re-application should yield equivalent proposals")
	}
}
