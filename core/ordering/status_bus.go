package ordering

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StatusBus is the single-producer multicast for transaction-status events.
// Publish enforces priority monotonicity per hash (spec §4.7.1, P4); delivery
// to each subscriber is non-blocking and in publish order, mirroring the
// single-worker serialization the rest of the pipeline assumes (spec §5).
type StatusBus struct {
	mu   sync.RWMutex
	subs map[Hash]map[uuid.UUID]chan Status
	last map[Hash]Status

	log     logrus.FieldLogger
	metrics *Metrics
}

// NewStatusBus constructs an empty StatusBus.
func NewStatusBus(metrics *Metrics, log logrus.FieldLogger) *StatusBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StatusBus{
		subs:    make(map[Hash]map[uuid.UUID]chan Status),
		last:    make(map[Hash]Status),
		log:     log,
		metrics: metrics,
	}
}

// Subscribe registers a subscriber for hash and returns its id and receive
// channel. Callers must call Unsubscribe when done.
func (b *StatusBus) Subscribe(hash Hash) (uuid.UUID, <-chan Status) {
	id := uuid.New()
	ch := make(chan Status, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[hash] == nil {
		b.subs[hash] = make(map[uuid.UUID]chan Status)
	}
	b.subs[hash][id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscription identified by id for hash.
func (b *StatusBus) Unsubscribe(hash Hash, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[hash]
	if subs == nil {
		return
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(b.subs, hash)
	}
}

// Last returns the most recently published status for hash, if any.
func (b *StatusBus) Last(hash Hash) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.last[hash]
	return s, ok
}

// Publish delivers s to every subscriber of s.Hash, unless s.Priority() is
// strictly lower than the currently cached priority for that hash, in which
// case it is dropped (spec §4.7.1: "an arriving status is ignored if its
// priority() is strictly lower than the one currently cached"). Reports
// whether the status was accepted.
func (b *StatusBus) Publish(s Status) bool {
	b.mu.Lock()
	if prev, ok := b.last[s.Hash]; ok && s.Priority() < prev.Priority() {
		b.mu.Unlock()
		return false
	}
	b.last[s.Hash] = s
	subs := make([]chan Status, 0, len(b.subs[s.Hash]))
	for _, ch := range b.subs[s.Hash] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.StatusPublishes.Inc()
	}
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			b.log.WithField("hash", s.Hash).Warn("ordering: status subscriber channel full, dropping event")
		}
	}
	return true
}
