package ordering

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// BatchAcceptor is the ordering gate's intake seam: the aggregator hands a
// newly complete batch to it, and the gate may reject under backpressure
// (spec §4.3.3).
type BatchAcceptor interface {
	TryAcceptBatch(batch *Batch) bool
}

// DefaultMaxConcurrentSends bounds how many peers a propagation tick pushes
// MST diffs to at once.
const DefaultMaxConcurrentSends = 8

// AggregatorConfig carries the MST aggregator's tunables. MaxConcurrentSends
// bounds how many peers a single propagation tick pushes MST diffs to at
// once, defaulting to DefaultMaxConcurrentSends when unset.
type AggregatorConfig struct {
	ExpiryMS           int64
	GateBufferSize     int
	MaxConcurrentSends int64
}

// Aggregator drives MST gossip: local propagation requests, inbound peer
// state, and periodic diff pushes selected by a PropagationStrategy (spec
// §4.3.3).
type Aggregator struct {
	storage   *Storage
	clock     Clock
	cfg       AggregatorConfig
	transport MstTransport
	strategy  PropagationStrategy
	log       logrus.FieldLogger
	metrics   *Metrics

	preparedCh chan *Batch
	updatedCh  chan *Batch
	expiredCh  chan *Batch

	gate BatchAcceptor

	bufMu   sync.Mutex
	pending []*Batch

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	sem *semaphore.Weighted
}

// NewAggregator constructs an Aggregator. gate may be nil at construction
// time and set later via SetGate, to break the gate<->aggregator
// initialization cycle the way the teacher's cyclic object graphs are
// wired post-construction (spec §9's "cyclic object graphs" note).
func NewAggregator(storage *Storage, clock Clock, transport MstTransport, strategy PropagationStrategy, cfg AggregatorConfig, metrics *Metrics, log logrus.FieldLogger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.GateBufferSize <= 0 {
		cfg.GateBufferSize = 1024
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = DefaultMaxConcurrentSends
	}
	a := &Aggregator{
		storage:    storage,
		clock:      clock,
		cfg:        cfg,
		transport:  transport,
		strategy:   strategy,
		log:        log,
		metrics:    metrics,
		preparedCh: make(chan *Batch, 256),
		updatedCh:  make(chan *Batch, 256),
		expiredCh:  make(chan *Batch, 256),
		stopCh:     make(chan struct{}),
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentSends),
	}
	if strategy != nil {
		a.wg.Add(1)
		go a.propagationLoop()
	}
	return a
}

// SetGate wires the ordering-gate intake used by enqueueToGate.
func (a *Aggregator) SetGate(gate BatchAcceptor) {
	a.bufMu.Lock()
	a.gate = gate
	a.bufMu.Unlock()
	a.retryPending()
}

// Prepared yields batches that just became complete.
func (a *Aggregator) Prepared() <-chan *Batch { return a.preparedCh }

// Updated yields batches whose signature set strictly grew.
func (a *Aggregator) Updated() <-chan *Batch { return a.updatedCh }

// Expired yields batches dropped by expiration.
func (a *Aggregator) Expired() <-chan *Batch { return a.expiredCh }

// PropagateLocal handles a local propagation request (spec §4.3.3 point 1):
// insert into own state, then publish completed/updated/expired batches,
// then forward every newly complete batch to the gate (with retry-on-
// backpressure semantics).
func (a *Aggregator) PropagateLocal(batch *Batch) {
	res := a.storage.UpdateOwn(batch)
	if a.metrics != nil {
		a.metrics.BatchesAggregated.Inc()
	}
	a.publish(res)
	a.handOffCompleted(res.Completed)
}

// OnPeerState handles inbound MST state from the transport (spec §4.3.3
// point 2): erase entries already expired at the local clock, merge the
// rest into storage, then publish the same three streams.
func (a *Aggregator) OnPeerState(peer PeerID, state *State) {
	state.EraseExpired(a.clock.NowMS(), a.cfg.ExpiryMS)
	res := a.storage.Apply(peer, state)
	if a.metrics != nil {
		a.metrics.BatchesAggregated.Inc()
	}
	a.publish(res)
	a.handOffCompleted(res.Completed)
}

func (a *Aggregator) publish(res StateUpdateResult) {
	for _, b := range res.Completed {
		if a.metrics != nil {
			a.metrics.BatchesCompleted.Inc()
		}
		nonBlockingSend(a.preparedCh, b, a.log, "prepared")
	}
	for _, b := range res.Updated {
		nonBlockingSend(a.updatedCh, b, a.log, "updated")
	}
	a.ExpireNow()
}

func nonBlockingSend(ch chan *Batch, b *Batch, log logrus.FieldLogger, stream string) {
	select {
	case ch <- b:
	default:
		log.WithField("stream", stream).Warn("ordering: mst publish stream full, dropping this notification")
	}
}

// handOffCompleted enqueues every newly complete batch to the gate exactly
// once; a gate rejection (backpressure) retains the batch for the next
// retry trigger (SetGate call, or the periodic propagation tick).
func (a *Aggregator) handOffCompleted(batches []*Batch) {
	if len(batches) == 0 {
		return
	}
	a.bufMu.Lock()
	for _, b := range batches {
		a.pending = append(a.pending, b)
	}
	if over := len(a.pending) - a.cfg.GateBufferSize; over > 0 {
		dropped := a.pending[:over]
		a.pending = a.pending[over:]
		if a.metrics != nil {
			a.metrics.GateBufferOverflow.Add(float64(len(dropped)))
		}
		a.log.WithField("count", len(dropped)).Error("ordering: propagation-to-gate buffer overflow, dropping oldest batches")
	}
	a.bufMu.Unlock()
	a.retryPending()
}

// retryPending attempts to drain the propagation-to-gate buffer into the
// gate; batches the gate rejects stay queued for the next call.
func (a *Aggregator) retryPending() {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	if a.gate == nil {
		return
	}
	remaining := a.pending[:0]
	for _, b := range a.pending {
		if a.gate.TryAcceptBatch(b) {
			continue
		}
		remaining = append(remaining, b)
	}
	a.pending = remaining
}

// ExpireNow runs the local expiration sweep and publishes the dropped
// batches on the Expired stream. Expiration never publishes completion for
// a batch it removes (spec §9).
func (a *Aggregator) ExpireNow() {
	expired := a.storage.ExtractExpired(a.clock.NowMS(), a.cfg.ExpiryMS)
	for _, b := range expired {
		if a.metrics != nil {
			a.metrics.BatchesExpired.Inc()
		}
		nonBlockingSend(a.expiredCh, b, a.log, "expired")
	}
}

// propagationLoop drives periodic diff pushes selected by the strategy
// (spec §4.3.3 point 3). Transport errors are logged, not retried at this
// layer; the next tick's diff will include whatever remains un-acked.
func (a *Aggregator) propagationLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case peers, ok := <-a.strategy.Emit():
			if !ok {
				return
			}
			a.retryPending()
			now := a.clock.NowMS()
			var sendWg sync.WaitGroup
			for _, peer := range peers {
				diff := a.storage.GetDiffState(peer, now, a.cfg.ExpiryMS)
				if diff.Len() == 0 {
					continue
				}
				if err := a.sem.Acquire(context.Background(), 1); err != nil {
					continue
				}
				sendWg.Add(1)
				go func(peer PeerID, diff *State) {
					defer sendWg.Done()
					defer a.sem.Release(1)
					if err := a.transport.SendMstState(context.Background(), peer, diff); err != nil {
						a.log.WithFields(logrus.Fields{"peer": peer, "error": err}).Warn("ordering: mst propagation send failed")
					}
				}(peer, diff)
			}
			sendWg.Wait()
		}
	}
}

// Stop halts the periodic propagation loop.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		if a.strategy != nil {
			a.strategy.Stop()
		}
	})
	a.wg.Wait()
}
