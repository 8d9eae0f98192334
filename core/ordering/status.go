package ordering

// StatusKind enumerates the externally visible transaction-lifecycle states
// (spec §3, "Transaction-status lifecycle").
type StatusKind int

const (
	NotReceived StatusKind = iota
	StatelessValid
	StatelessFailed
	MstPending
	MstExpired
	EnoughSignatures
	StatefulValid
	StatefulFailed
	Committed
	Rejected
)

var statusNames = map[StatusKind]string{
	NotReceived:      "NotReceived",
	StatelessValid:   "StatelessValid",
	StatelessFailed:  "StatelessFailed",
	MstPending:       "MstPending",
	MstExpired:       "MstExpired",
	EnoughSignatures: "EnoughSignatures",
	StatefulValid:    "StatefulValid",
	StatefulFailed:   "StatefulFailed",
	Committed:        "Committed",
	Rejected:         "Rejected",
}

func (k StatusKind) String() string {
	if s, ok := statusNames[k]; ok {
		return s
	}
	return "Unknown"
}

// priorities encodes the partial order from spec §3:
//
//	NotReceived < StatelessValid < MstPending < {MstExpired, EnoughSignatures}
//	  < {StatefulValid, StatefulFailed} < {Committed, Rejected}
//
// StatelessFailed sits alongside MstPending: it replaces the would-be
// MstPending step when stateless validation fails, and is terminal.
var priorities = map[StatusKind]int{
	NotReceived:      0,
	StatelessValid:   1,
	StatelessFailed:  2,
	MstPending:       2,
	MstExpired:       3,
	EnoughSignatures: 3,
	StatefulValid:    4,
	StatefulFailed:   4,
	Committed:        5,
	Rejected:         5,
}

// terminal marks the statuses that end a status-stream subscription (spec
// §4.7.2).
var terminal = map[StatusKind]bool{
	StatelessFailed: true,
	MstExpired:      true,
	Committed:       true,
	Rejected:        true,
}

// Status is a single transaction-lifecycle event.
type Status struct {
	Hash Hash
	Kind StatusKind
}

// Priority returns the status's rank in the monotonic lifecycle order; a
// status bus never lets a lower-priority status overwrite a higher one for
// the same hash (spec §4.7.1, property P4).
func (s Status) Priority() int { return priorities[s.Kind] }

// IsTerminal reports whether s ends a get_status_stream subscription.
func (s Status) IsTerminal() bool { return terminal[s.Kind] }

// IsAlreadyProcessed reports whether s reflects a final ledger outcome
// (spec §3, property P6 — mirrors PresenceStatus.IsAlreadyProcessed).
func (s Status) IsAlreadyProcessed() bool {
	return s.Kind == Committed || s.Kind == Rejected
}
