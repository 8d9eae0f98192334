package ordering

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
)

// NextRejectRoundConsumer and NextCommitRoundConsumer are the fixed
// permutation indices used to pick the next-round reject and after-next
// commit consumers (spec §4.5).
const (
	NextRejectRoundConsumer = FirstReject + 1
	NextCommitRoundConsumer = FirstReject
)

// ConnectionManager derives, from the current peer list and the hashes of
// the last three committed blocks, three independent peer permutations and
// routes batches/proposal requests to the four logical roles they encode
// (spec §4.5).
type ConnectionManager struct {
	mu sync.RWMutex

	transport Transport
	log       logrus.FieldLogger

	current   []PeerID // seeded by the hash of the block 0 commits ago
	next      []PeerID // seeded by the hash of the block 1 commit ago
	afterNext []PeerID // seeded by the hash of the block 2 commits ago
}

// NewConnectionManager constructs a ConnectionManager with its three
// permutations seeded from the bootstrap seeds and peer list supplied at
// start-up (spec §4.5, "bootstrap: initial seeds supplied at start-up").
func NewConnectionManager(transport Transport, peers []PeerID, seeds [3]uint64, log logrus.FieldLogger) *ConnectionManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cm := &ConnectionManager{transport: transport, log: log}
	cm.Reseed(peers, seeds)
	return cm
}

// Reseed recomputes the three permutations from peers and seeds, atomically
// swapping all four role endpoints under an exclusive lock (spec §4.5,
// "Reassignment is atomic").
func (cm *ConnectionManager) Reseed(peers []PeerID, seeds [3]uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.current = permute(peers, seeds[0])
	cm.next = permute(peers, seeds[1])
	cm.afterNext = permute(peers, seeds[2])
}

// permute returns a pseudo-random permutation of peers seeded deterministically
// by seed, so every node that observed the same commit history derives the
// same routing without coordination.
func permute(peers []PeerID, seed uint64) []PeerID {
	out := make([]PeerID, len(peers))
	copy(out, peers)
	r := rand.New(rand.NewSource(int64(seed)))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func pick(perm []PeerID, index uint32) (PeerID, bool) {
	if len(perm) == 0 {
		return "", false
	}
	return perm[int(index)%len(perm)], true
}

// OnBatches forwards batches to the three possible future proposers: the
// current-round reject consumer (reject-rotated by the round's own reject
// counter), the next-round reject consumer, and the after-next-round commit
// consumer (spec §4.5). Each forwarding targets the reachable round that
// consumer is responsible for packing.
func (cm *ConnectionManager) OnBatches(ctx context.Context, round Round, batches []*Batch) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	targets := reachableRounds(round)
	type hop struct {
		peer  PeerID
		ok    bool
		round Round
	}
	hops := [3]hop{}
	hops[0].peer, hops[0].ok = pick(cm.current, round.RejectRound+2)
	hops[0].round = targets[0]
	hops[1].peer, hops[1].ok = pick(cm.next, NextRejectRoundConsumer)
	hops[1].round = targets[1]
	hops[2].peer, hops[2].ok = pick(cm.afterNext, NextCommitRoundConsumer)
	hops[2].round = targets[2]

	for _, h := range hops {
		if !h.ok {
			continue
		}
		if err := cm.transport.SendBatches(ctx, h.peer, h.round, batches); err != nil {
			cm.log.WithFields(logrus.Fields{"peer": h.peer, "round": h.round, "error": err}).
				Warn("ordering: connection manager batch forward failed")
		}
	}
}

// OnRequestProposal calls the issuer peer's RequestProposal and returns its
// result unchanged (spec §4.5).
func (cm *ConnectionManager) OnRequestProposal(ctx context.Context, round Round) (*Proposal, error) {
	cm.mu.RLock()
	issuer, ok := pick(cm.current, round.RejectRound)
	transport := cm.transport
	cm.mu.RUnlock()
	if !ok {
		return nil, ErrTransportUnavailable
	}
	return transport.RequestProposal(ctx, issuer, round)
}
