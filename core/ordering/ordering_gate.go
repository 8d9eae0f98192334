package ordering

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultProposalRequestTimeout is the deadline applied to a round's
// proposal request before the gate synthesizes an empty proposal (spec §5,
// "Cancellation & timeouts").
const DefaultProposalRequestTimeout = 300 * time.Millisecond

// GateConfig carries the ordering gate's tunables.
type GateConfig struct {
	TransactionLimit       int
	ProposalRequestTimeout time.Duration
}

// RoundSwitchEvent is delivered by the synchronizer on every round switch,
// already classified into commit/reject by the round's own reject counter
// (spec §4.6.1).
type RoundSwitchEvent struct {
	NextRound   Round
	LedgerState any
}

// GateEmission is published on the gate's "proposal" subject (spec §4.6.2
// step 5).
type GateEmission struct {
	Proposal    *Proposal
	NextRound   Round
	LedgerState any
}

// OrderingGate is the per-node front end that accepts client batches and
// drives round progression (spec §4.6): it owns the ordering service, the
// connection-manager network client, the three-slot cache, and consults the
// presence cache to strip replays from proposals it requests.
type OrderingGate struct {
	cfg GateConfig

	service  *Service
	connMgr  *ConnectionManager
	cache    *GateCache
	presence PresenceCache
	log      logrus.FieldLogger
	metrics  *Metrics

	roundMu      sync.RWMutex
	currentRound Round

	switchMu sync.Mutex // serializes round_switch steps (1)..(5), spec §5

	emitCh chan GateEmission
}

// NewOrderingGate constructs an OrderingGate. initialRound seeds the
// current-round tracking used by PropagateBatch until the first round
// switch arrives.
func NewOrderingGate(service *Service, connMgr *ConnectionManager, cache *GateCache, presence PresenceCache, initialRound Round, cfg GateConfig, metrics *Metrics, log logrus.FieldLogger) *OrderingGate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.TransactionLimit <= 0 {
		cfg.TransactionLimit = DefaultTransactionLimit
	}
	if cfg.ProposalRequestTimeout <= 0 {
		cfg.ProposalRequestTimeout = DefaultProposalRequestTimeout
	}
	return &OrderingGate{
		cfg:          cfg,
		service:      service,
		connMgr:      connMgr,
		cache:        cache,
		presence:     presence,
		log:          log,
		metrics:      metrics,
		currentRound: initialRound,
		emitCh:       make(chan GateEmission, 64),
	}
}

// Proposals yields the gate's proposal emissions (spec §4.6.2 step 5).
func (g *OrderingGate) Proposals() <-chan GateEmission { return g.emitCh }

// PropagateBatch implements spec §4.6.1's propagate_batch: add to the
// cache's tail and forward to the three future proposers via the
// connection manager, for the round currently in effect.
func (g *OrderingGate) PropagateBatch(ctx context.Context, batch *Batch) {
	g.cache.AddToBack(batch)
	g.roundMu.RLock()
	current := g.currentRound
	g.roundMu.RUnlock()
	g.connMgr.OnBatches(ctx, current, []*Batch{batch})
}

// TryAcceptBatch implements BatchAcceptor, the seam the MST aggregator uses
// to hand a newly complete batch to the gate (spec §4.3.3). The gate's
// cache has no admission limit of its own, so acceptance always succeeds.
func (g *OrderingGate) TryAcceptBatch(batch *Batch) bool {
	g.PropagateBatch(context.Background(), batch)
	return true
}

// OnProcessedTxHashes implements the processed_tx_hashes stream handler:
// hashes committed or rejected by a block are erased from the cache.
func (g *OrderingGate) OnProcessedTxHashes(hashes []Hash) {
	set := make(map[Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	g.cache.Remove(set)
}

// OnRoundSwitch runs the five-step round cycle of spec §4.6.2 for one
// round-switch event, serialized against any concurrent round switch.
func (g *OrderingGate) OnRoundSwitch(ctx context.Context, event RoundSwitchEvent) {
	g.switchMu.Lock()
	defer g.switchMu.Unlock()

	// 1. notify the ordering service.
	g.service.OnCollaborationOutcome(event.NextRound)
	if g.metrics != nil {
		g.metrics.RoundSwitches.Inc()
	}

	g.roundMu.Lock()
	g.currentRound = event.NextRound
	g.roundMu.Unlock()

	// 2. cached-batch resend, bounded by TRANSACTION_LIMIT.
	popped := g.cache.Pop()
	resend := limitByTxCount(popped, g.cfg.TransactionLimit)
	if len(resend) > 0 {
		g.connMgr.OnBatches(ctx, event.NextRound, resend)
	}

	// 3. request the proposal, bounded by a deadline; timeout or transport
	// error yields an empty proposal rather than stalling (spec §5).
	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.ProposalRequestTimeout)
	proposal, err := g.connMgr.OnRequestProposal(reqCtx, event.NextRound)
	cancel()
	if err != nil {
		g.log.WithFields(logrus.Fields{"round": event.NextRound, "error": err}).
			Warn("ordering: proposal request failed, emitting empty proposal")
	}
	if proposal == nil {
		proposal = &Proposal{Height: event.NextRound.BlockRound, CreatedAtMS: g.service.clock.NowMS()}
	}

	// 4. replay strip, atomic per batch.
	stripped := g.replayStrip(proposal)

	// 5. emit.
	select {
	case g.emitCh <- GateEmission{Proposal: stripped, NextRound: event.NextRound, LedgerState: event.LedgerState}:
	default:
		g.log.WithField("round", event.NextRound).Warn("ordering: proposal emission channel full, dropping")
	}
}

// limitByTxCount returns the longest ordered prefix of batches whose
// cumulative transaction count stays within limit (spec §4.6.2 step 2).
func limitByTxCount(batches []*Batch, limit int) []*Batch {
	out := make([]*Batch, 0, len(batches))
	count := 0
	for _, b := range batches {
		n := len(b.Transactions)
		if count+n > limit {
			break
		}
		out = append(out, b)
		count += n
	}
	return out
}

// replayStrip implements spec §4.6.2 step 4: every transaction is checked
// against the presence cache; a transaction is kept iff Missing. Membership
// in a batch is reconstructed from the gate's own three-slot cache (the
// only place batch-meta is still available once a proposal has been
// flattened to a plain transaction list) — a transaction not found in any
// known batch is treated as its own singleton atomic unit. If any
// transaction of a (reconstructed) batch is non-Missing, or a presence
// lookup fails, the entire batch is dropped.
func (g *OrderingGate) replayStrip(p *Proposal) *Proposal {
	index := g.knownBatchIdentities()

	type group struct {
		key string
		txs []*Transaction
	}
	order := make([]string, 0, len(p.Transactions))
	groups := make(map[string]*group, len(p.Transactions))
	for _, tx := range p.Transactions {
		key, ok := index[tx.ReducedHash]
		if !ok {
			key = "single:" + string(tx.ReducedHash[:])
		}
		grp, exists := groups[key]
		if !exists {
			grp = &group{key: key}
			groups[key] = grp
			order = append(order, key)
		}
		grp.txs = append(grp.txs, tx)
	}

	kept := make([]*Transaction, 0, len(p.Transactions))
	for _, key := range order {
		grp := groups[key]
		if g.allMissing(grp.txs) {
			kept = append(kept, grp.txs...)
		} else if g.metrics != nil {
			g.metrics.ReplayStripDropped.Add(float64(len(grp.txs)))
		}
	}
	return p.WithTransactions(kept)
}

// allMissing reports whether every transaction is Missing in the presence
// cache; a failed lookup counts as non-Missing (spec §7, conservative
// safety over liveness).
func (g *OrderingGate) allMissing(txs []*Transaction) bool {
	for _, tx := range txs {
		st, err := g.presence.Check(tx.ReducedHash)
		if err != nil || st.Kind != PresenceMissing {
			return false
		}
	}
	return true
}

// knownBatchIdentities maps every reduced hash currently held in the
// three-slot cache to a stable key identifying its batch.
func (g *OrderingGate) knownBatchIdentities() map[Hash]string {
	index := make(map[Hash]string)
	for _, slot := range g.cache.Snapshot() {
		for _, b := range slot {
			if b.Meta == nil {
				continue
			}
			id := b.Identity()
			for _, h := range b.Meta.ReducedHashes {
				index[h] = id
			}
		}
	}
	return index
}
