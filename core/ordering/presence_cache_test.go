package ordering

import "testing"

func TestMemoryPresenceCacheMissingByDefault(t *testing.T) {
	c := NewMemoryPresenceCache()
	st, err := c.Check(Hash{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Kind != PresenceMissing {
		t.Fatalf("expected Missing, got %v", st.Kind)
	}
	if st.IsAlreadyProcessed() {
		t.Fatalf("Missing must not be already-processed")
	}
}

func TestMemoryPresenceCacheCommittedRejected(t *testing.T) {
	c := NewMemoryPresenceCache()
	h1, h2 := Hash{1}, Hash{2}
	c.MarkCommitted(h1)
	c.MarkRejected(h2)

	st1, _ := c.Check(h1)
	if st1.Kind != PresenceCommitted || !st1.IsAlreadyProcessed() {
		t.Fatalf("expected committed+processed for h1, got %+v", st1)
	}
	st2, _ := c.Check(h2)
	if st2.Kind != PresenceRejected || !st2.IsAlreadyProcessed() {
		t.Fatalf("expected rejected+processed for h2, got %+v", st2)
	}
}

func TestMemoryPresenceCacheFailing(t *testing.T) {
	c := NewMemoryPresenceCache()
	c.SetFailing(errTestStorage)
	if _, err := c.Check(Hash{1}); err == nil {
		t.Fatalf("expected storage error")
	} else if Classify(err) != ErrorKindStorageUnavailable {
		t.Fatalf("expected ErrorKindStorageUnavailable, got %v", Classify(err))
	}
}

func TestMemoryPresenceCacheCheckBatchOrder(t *testing.T) {
	c := NewMemoryPresenceCache()
	h1, h2, h3 := Hash{1}, Hash{2}, Hash{3}
	c.MarkCommitted(h1)
	c.MarkRejected(h3)
	sts, err := c.CheckBatch([]Hash{h1, h2, h3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []PresenceKind{PresenceCommitted, PresenceMissing, PresenceRejected}
	for i, st := range sts {
		if st.Kind != want[i] {
			t.Fatalf("index %d: got %v want %v", i, st.Kind, want[i])
		}
	}
}

var errTestStorage = &testError{"boom"}

type testError struct{ s string }

func (e *testError) Error() string { return e.s }
