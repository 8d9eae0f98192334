package ordering

import (
	"testing"
	"time"
)

type fakeMSTIntake struct{ got []*Batch }

func (f *fakeMSTIntake) PropagateLocal(b *Batch) { f.got = append(f.got, b) }

type fakeBatchIntake struct{ got []*Batch }

func (f *fakeBatchIntake) PropagateBatch(b *Batch) { f.got = append(f.got, b) }

func newTestCommandService(t *testing.T) (*CommandService, *MemoryPresenceCache, *fakeMSTIntake, *fakeBatchIntake, *StatusBus) {
	t.Helper()
	presence := NewMemoryPresenceCache()
	bus := NewStatusBus(NewNopMetrics(), nil)
	cache, err := NewStatusCache(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mst := &fakeMSTIntake{}
	gate := &fakeBatchIntake{}
	return NewCommandService(presence, bus, cache, mst, gate, nil), presence, mst, gate, bus
}

// TestCommandServiceScenarioASingleSignature mirrors Scenario A: a quorum-1
// transaction goes straight to the gate with a StatelessValid status.
func TestCommandServiceScenarioASingleSignature(t *testing.T) {
	svc, _, mst, gate, bus := newTestCommandService(t)
	tx := mkTx(1, 1, "a")
	_, ch := bus.Subscribe(tx.ReducedHash)

	svc.HandleTransactionBatch(mkBatch(tx))

	if len(gate.got) != 1 || len(mst.got) != 0 {
		t.Fatalf("expected quorum-1 batch routed to the gate, got gate=%d mst=%d", len(gate.got), len(mst.got))
	}
	if got := <-ch; got.Kind != StatelessValid {
		t.Fatalf("expected StatelessValid, got %v", got.Kind)
	}
}

func TestCommandServiceMstRoutesMultiQuorum(t *testing.T) {
	svc, _, mst, gate, _ := newTestCommandService(t)
	tx := mkTx(1, 2, "a")
	svc.HandleTransactionBatch(mkBatch(tx))
	if len(mst.got) != 1 || len(gate.got) != 0 {
		t.Fatalf("expected quorum>1 batch routed to MST, got gate=%d mst=%d", len(gate.got), len(mst.got))
	}
}

func TestCommandServiceDropsAlreadyProcessedBatchSilently(t *testing.T) {
	svc, presence, mst, gate, _ := newTestCommandService(t)
	tx := mkTx(1, 1, "a")
	presence.MarkCommitted(tx.ReducedHash)

	svc.HandleTransactionBatch(mkBatch(tx))

	if len(mst.got) != 0 || len(gate.got) != 0 {
		t.Fatalf("expected an already-processed batch to be dropped with no forwarding")
	}
}

func TestCommandServiceGetStatusIgnoresBusOnlyPublish(t *testing.T) {
	svc, _, _, _, bus := newTestCommandService(t)
	h := Hash{1}
	bus.Publish(Status{Hash: h, Kind: StatelessValid})
	// bus publish alone does not populate the status cache (only
	// HandleTransactionBatch's own bookkeeping does), so GetStatus finds no
	// cache entry and no presence record.
	if got := svc.GetStatus(h); got.Kind != NotReceived {
		t.Fatalf("expected NotReceived with no cache entry and no presence record, got %v", got.Kind)
	}
}

// TestCommandServiceScenarioFStatusCacheFallback mirrors Scenario F.
func TestCommandServiceScenarioFStatusCacheFallback(t *testing.T) {
	svc, presence, _, _, _ := newTestCommandService(t)
	h := Hash{9}
	presence.MarkRejected(h)

	got := svc.GetStatus(h)
	if got.Kind != Rejected {
		t.Fatalf("expected Rejected from presence-cache fallback, got %v", got.Kind)
	}
}

func TestCommandServiceGetStatusStreamTerminatesOnTerminalSeed(t *testing.T) {
	svc, presence, _, _, _ := newTestCommandService(t)
	h := Hash{1}
	presence.MarkCommitted(h)

	ch := svc.GetStatusStream(h, StatusStreamOptions{InitialTimeout: time.Second, NonFinalTimeout: time.Second})
	first, ok := <-ch
	if !ok || first.Kind != Committed {
		t.Fatalf("expected seeded Committed status, got %+v ok=%v", first, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected the stream to close after a terminal seed")
	}
}

func TestCommandServiceGetStatusStreamInitialTimeout(t *testing.T) {
	svc, _, _, _, _ := newTestCommandService(t)
	h := Hash{1}
	ch := svc.GetStatusStream(h, StatusStreamOptions{InitialTimeout: 20 * time.Millisecond, NonFinalTimeout: time.Second})

	first, ok := <-ch
	if !ok || first.Kind != NotReceived {
		t.Fatalf("expected seeded NotReceived, got %+v ok=%v", first, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected the stream to close after the initial timeout elapses with no further status")
	}
}

func TestCommandServiceGetStatusStreamDeliversLiveStatuses(t *testing.T) {
	svc, _, _, _, bus := newTestCommandService(t)
	h := Hash{1}
	ch := svc.GetStatusStream(h, StatusStreamOptions{InitialTimeout: time.Second, NonFinalTimeout: time.Second})

	<-ch // seed: NotReceived
	bus.Publish(Status{Hash: h, Kind: StatelessValid})
	if got := <-ch; got.Kind != StatelessValid {
		t.Fatalf("expected StatelessValid, got %v", got.Kind)
	}
	bus.Publish(Status{Hash: h, Kind: Committed})
	if got := <-ch; got.Kind != Committed {
		t.Fatalf("expected Committed, got %v", got.Kind)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected the stream to close after a terminal status")
	}
}
