// Package ordering implements the ordered proposal pipeline: MST batch
// aggregation, on-demand ordering, round progression, transaction-presence
// lookup, and the externally visible transaction-status lifecycle.
package ordering

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// FirstReject is the reject-round value assigned immediately after a commit.
const FirstReject uint32 = 1

// Round identifies a consensus round as a (block_round, reject_round) pair,
// totally ordered lexicographically on (BlockRound, RejectRound).
type Round struct {
	BlockRound  uint64
	RejectRound uint32
}

// NewRound returns the round (block, reject).
func NewRound(block uint64, reject uint32) Round {
	return Round{BlockRound: block, RejectRound: reject}
}

// Less reports whether r sorts strictly before other.
func (r Round) Less(other Round) bool {
	if r.BlockRound != other.BlockRound {
		return r.BlockRound < other.BlockRound
	}
	return r.RejectRound < other.RejectRound
}

// Equal reports whether r and other identify the same round.
func (r Round) Equal(other Round) bool {
	return r.BlockRound == other.BlockRound && r.RejectRound == other.RejectRound
}

// NextCommit returns the round that follows a committed block: the block
// counter advances and the reject counter resets to FirstReject.
func (r Round) NextCommit() Round {
	return Round{BlockRound: r.BlockRound + 1, RejectRound: FirstReject}
}

// NextReject returns the round that follows a rejected proposal: the block
// counter is unchanged and the reject counter advances by one.
func (r Round) NextReject() Round {
	return Round{BlockRound: r.BlockRound, RejectRound: r.RejectRound + 1}
}

// String renders the round as "block:reject" for logging.
func (r Round) String() string {
	return fmt.Sprintf("%d:%d", r.BlockRound, r.RejectRound)
}

// Hash returns a stable, deterministic 64-bit digest of the round, used by
// the connection manager as permutation seed material.
func (r Round) Hash() uint64 {
	h := fnv.New64a()
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], r.BlockRound)
	binary.BigEndian.PutUint32(buf[8:12], r.RejectRound)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
