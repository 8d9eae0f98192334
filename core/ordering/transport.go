package ordering

import "context"

// MstTransport sends this node's MST diff state to a peer. Unary, no
// response (spec §6.1).
type MstTransport interface {
	SendMstState(ctx context.Context, peer PeerID, state *State) error
}

// BatchTransport delivers freshly submitted batches to a peer for a given
// round (spec §6.1).
type BatchTransport interface {
	SendBatches(ctx context.Context, peer PeerID, round Round, batches []*Batch) error
}

// ProposalTransport requests the proposal packed for a round from its
// issuer. Returns (nil, nil) when the issuer holds no proposal for that
// round (spec §6.1). The deadline is enforced by the caller via ctx.
type ProposalTransport interface {
	RequestProposal(ctx context.Context, peer PeerID, round Round) (*Proposal, error)
}

// Transport bundles the three peer-to-peer RPC families the ordering core
// depends on, so a single concrete implementation (e.g. the libp2p-backed
// one in transport_libp2p.go) can satisfy all three.
type Transport interface {
	MstTransport
	BatchTransport
	ProposalTransport
}
