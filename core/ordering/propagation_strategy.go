package ordering

import (
	"sync"
	"time"
)

// PropagationStrategy decides, on each tick, which peers the MST aggregator
// should push its diff state to. Spec §4.3.3 names this "the propagation
// strategy emitter" without defining it; this models the original
// implementation's periodic all-known-peers gossip loop
// (irohad/multi_sig_transactions/impl/mst_processor_impl.cpp).
type PropagationStrategy interface {
	// Emit returns a channel that yields the current peer list on every
	// propagation tick. Closed when Stop is called.
	Emit() <-chan []PeerID
	Stop()
}

// PeriodicAllPeers emits the full known-peer list on a fixed interval.
type PeriodicAllPeers struct {
	mu       sync.RWMutex
	peers    []PeerID
	interval time.Duration
	out      chan []PeerID
	stop     chan struct{}
	once     sync.Once
}

// NewPeriodicAllPeers starts a strategy that emits every interval.
func NewPeriodicAllPeers(interval time.Duration, peers []PeerID) *PeriodicAllPeers {
	p := &PeriodicAllPeers{
		peers:    append([]PeerID(nil), peers...),
		interval: interval,
		out:      make(chan []PeerID, 1),
		stop:     make(chan struct{}),
	}
	go p.run()
	return p
}

// SetPeers atomically replaces the known-peer list used by subsequent
// ticks.
func (p *PeriodicAllPeers) SetPeers(peers []PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = append([]PeerID(nil), peers...)
}

func (p *PeriodicAllPeers) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			close(p.out)
			return
		case <-ticker.C:
			p.mu.RLock()
			peers := append([]PeerID(nil), p.peers...)
			p.mu.RUnlock()
			select {
			case p.out <- peers:
			default:
				// previous tick's destinations not yet drained; skip this
				// one rather than block the ticker goroutine.
			}
		}
	}
}

func (p *PeriodicAllPeers) Emit() <-chan []PeerID { return p.out }

func (p *PeriodicAllPeers) Stop() {
	p.once.Do(func() { close(p.stop) })
}
