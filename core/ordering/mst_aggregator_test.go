package ordering

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

type fakeTransport struct {
	mu   sync.Mutex
	sent map[PeerID]*State
}

func newFakeTransport() *fakeTransport { return &fakeTransport{sent: make(map[PeerID]*State)} }

func (f *fakeTransport) SendMstState(_ context.Context, peer PeerID, state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peer] = state
	return nil
}

func (f *fakeTransport) SendBatches(context.Context, PeerID, Round, []*Batch) error { return nil }
func (f *fakeTransport) RequestProposal(context.Context, PeerID, Round) (*Proposal, error) {
	return nil, nil
}

// manualStrategy lets a test drive propagationLoop ticks directly instead of
// waiting on a timer.
type manualStrategy struct {
	out chan []PeerID
}

func newManualStrategy() *manualStrategy {
	return &manualStrategy{out: make(chan []PeerID, 1)}
}

func (m *manualStrategy) Emit() <-chan []PeerID { return m.out }
func (m *manualStrategy) Stop()                 { close(m.out) }

type fakeGate struct {
	mu       sync.Mutex
	accept   bool
	accepted []*Batch
}

func (g *fakeGate) TryAcceptBatch(b *Batch) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.accept {
		return false
	}
	g.accepted = append(g.accepted, b)
	return true
}

func TestAggregatorPropagateLocalPublishesAndHandsOff(t *testing.T) {
	storage := NewStorage()
	clock := &fakeClock{now: 1000}
	transport := newFakeTransport()
	agg := NewAggregator(storage, clock, transport, nil, AggregatorConfig{ExpiryMS: 60000}, NewNopMetrics(), nil)
	gate := &fakeGate{accept: true}
	agg.SetGate(gate)

	agg.PropagateLocal(mkBatch(mkTx(1, 1, "a")))

	select {
	case b := <-agg.Prepared():
		if b == nil {
			t.Fatalf("expected prepared batch")
		}
	default:
		t.Fatalf("expected a prepared-stream notification")
	}

	if len(gate.accepted) != 1 {
		t.Fatalf("expected batch handed to gate, got %d", len(gate.accepted))
	}
}

func TestAggregatorBackpressureRetriesOnSetGate(t *testing.T) {
	storage := NewStorage()
	clock := &fakeClock{now: 1000}
	transport := newFakeTransport()
	agg := NewAggregator(storage, clock, transport, nil, AggregatorConfig{ExpiryMS: 60000}, NewNopMetrics(), nil)
	gate := &fakeGate{accept: false}
	agg.SetGate(gate)

	agg.PropagateLocal(mkBatch(mkTx(1, 1, "a")))
	if len(gate.accepted) != 0 {
		t.Fatalf("gate should have rejected")
	}

	gate.mu.Lock()
	gate.accept = true
	gate.mu.Unlock()
	agg.retryPending()

	if len(gate.accepted) != 1 {
		t.Fatalf("expected retained batch to be accepted on retry, got %d", len(gate.accepted))
	}
}

func TestAggregatorOnPeerStateMerges(t *testing.T) {
	storage := NewStorage()
	clock := &fakeClock{now: 1000}
	transport := newFakeTransport()
	agg := NewAggregator(storage, clock, transport, nil, AggregatorConfig{ExpiryMS: 60000}, NewNopMetrics(), nil)
	gate := &fakeGate{accept: true}
	agg.SetGate(gate)

	agg.PropagateLocal(mkBatch(mkTx(1, 2, "local")))

	peerState := NewState()
	peerState.Insert(mkBatch(mkTx(1, 2, "peer")))
	agg.OnPeerState(PeerID("P1"), peerState)

	if len(gate.accepted) != 1 {
		t.Fatalf("expected exactly one completion handed to gate, got %d", len(gate.accepted))
	}
}

func TestAggregatorExpireNowNeverPublishesCompletion(t *testing.T) {
	storage := NewStorage()
	clock := &fakeClock{now: 1000}
	transport := newFakeTransport()
	agg := NewAggregator(storage, clock, transport, nil, AggregatorConfig{ExpiryMS: 500}, NewNopMetrics(), nil)
	gate := &fakeGate{accept: true}
	agg.SetGate(gate)

	tx := mkTx(1, 1, "a")
	tx.CreatedAtMS = 0
	agg.PropagateLocal(mkBatch(tx))
	// drain the completion published from PropagateLocal itself.
	<-agg.Prepared()
	gate.mu.Lock()
	gate.accepted = nil
	gate.mu.Unlock()

	clock.Set(2000)
	agg.ExpireNow()

	select {
	case <-agg.Expired():
	default:
		t.Fatalf("expected expired-stream notification")
	}
	if len(gate.accepted) != 0 {
		t.Fatalf("expiration must never hand a batch to the gate")
	}
}

func TestAggregatorPropagationLoopBoundsConcurrentSends(t *testing.T) {
	storage := NewStorage()
	clock := &fakeClock{now: 1000}
	transport := newFakeTransport()
	strategy := newManualStrategy()
	agg := NewAggregator(storage, clock, transport, strategy, AggregatorConfig{ExpiryMS: 60000, MaxConcurrentSends: 2}, NewNopMetrics(), nil)
	defer agg.Stop()

	agg.PropagateLocal(mkBatch(mkTx(1, 1, "a")))
	<-agg.Prepared()

	peers := []PeerID{"P1", "P2", "P3", "P4", "P5"}
	strategy.out <- peers

	deadline := time.After(time.Second)
	for {
		transport.mu.Lock()
		n := len(transport.sent)
		transport.mu.Unlock()
		if n == len(peers) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected all %d peers to receive a diff, got %d", len(peers), n)
		case <-time.After(time.Millisecond):
		}
	}
}
