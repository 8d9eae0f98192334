package ordering

import (
	"time"

	"github.com/sirupsen/logrus"
)

// MSTIntake accepts a multi-signature batch for MST aggregation (q>1).
type MSTIntake interface {
	PropagateLocal(batch *Batch)
}

// BatchIntake accepts a batch directly into the ordering gate (q==1).
type BatchIntake interface {
	PropagateBatch(batch *Batch)
}

// CommandService is the client-facing command half of spec §4.7.2: batch
// intake, one-shot status lookup, and status-stream subscription, seeded
// from the status cache and the authoritative presence cache.
type CommandService struct {
	presence PresenceCache
	bus      *StatusBus
	cache    *StatusCache
	mst      MSTIntake
	gate     BatchIntake
	log      logrus.FieldLogger
}

// NewCommandService constructs a CommandService.
func NewCommandService(presence PresenceCache, bus *StatusBus, cache *StatusCache, mst MSTIntake, gate BatchIntake, log logrus.FieldLogger) *CommandService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CommandService{presence: presence, bus: bus, cache: cache, mst: mst, gate: gate, log: log}
}

// HandleTransactionBatch implements spec §4.7.2's handle_transaction_batch:
// a batch with any already-processed transaction is dropped silently;
// otherwise every transaction is stamped StatelessValid and the batch is
// routed to the MST aggregator (any transaction requiring quorum>1) or
// straight to the ordering gate (all quorum==1).
func (s *CommandService) HandleTransactionBatch(batch *Batch) {
	mstRequired := false
	for _, tx := range batch.Transactions {
		st, err := s.presence.Check(tx.ReducedHash)
		if err != nil {
			// A storage hiccup here must not silently and permanently drop a
			// fresh submission; fail open on the already-processed check and
			// let stateful validation downstream be the final word.
			s.log.WithFields(logrus.Fields{"hash": tx.ReducedHash, "error": err}).
				Warn("ordering: presence check failed during batch intake, proceeding")
		} else if st.IsAlreadyProcessed() {
			return
		}
		if tx.Quorum > 1 {
			mstRequired = true
		}
	}

	for _, tx := range batch.Transactions {
		status := Status{Hash: tx.ReducedHash, Kind: StatelessValid}
		s.bus.Publish(status)
		s.cache.Put(status)
	}

	if mstRequired {
		s.mst.PropagateLocal(batch)
	} else {
		s.gate.PropagateBatch(batch)
	}
}

// GetStatus implements get_status: in-memory cache first, then the
// authoritative presence cache, defaulting to NotReceived (spec §4.7.2;
// spec §7 maps a presence-cache storage error to NotReceived as well).
func (s *CommandService) GetStatus(hash Hash) Status {
	if st, ok := s.cache.Get(hash); ok {
		return st
	}
	pst, err := s.presence.Check(hash)
	if err != nil {
		return Status{Hash: hash, Kind: NotReceived}
	}
	switch pst.Kind {
	case PresenceCommitted:
		return Status{Hash: hash, Kind: Committed}
	case PresenceRejected:
		return Status{Hash: hash, Kind: Rejected}
	default:
		return Status{Hash: hash, Kind: NotReceived}
	}
}

// StatusStreamOptions configures GetStatusStream's timeout behavior.
type StatusStreamOptions struct {
	InitialTimeout  time.Duration
	NonFinalTimeout time.Duration
}

// GetStatusStream implements get_status_stream: the caller receives the
// seed status immediately (from the two caches) on ch, then live bus events
// for hash, until a terminal status is delivered or either timeout elapses
// (spec §4.7.2). The channel is closed when the stream ends.
func (s *CommandService) GetStatusStream(hash Hash, opts StatusStreamOptions) <-chan Status {
	out := make(chan Status, 4)
	id, busCh := s.bus.Subscribe(hash)

	go func() {
		defer close(out)
		defer s.bus.Unsubscribe(hash, id)

		seed := s.GetStatus(hash)
		out <- seed
		if seed.IsTerminal() {
			return
		}

		timeout := opts.InitialTimeout
		for {
			timer := time.NewTimer(timeout)
			select {
			case st, ok := <-busCh:
				timer.Stop()
				if !ok {
					return
				}
				out <- st
				if st.IsTerminal() {
					return
				}
				timeout = opts.NonFinalTimeout
			case <-timer.C:
				return
			}
		}
	}()

	return out
}
