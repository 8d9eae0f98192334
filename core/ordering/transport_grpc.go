package ordering

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

//---------------------------------------------------------------------
// gRPC proto (compiled separately) – minimal stub interface here, the way
// the teacher's AI module stubs its remote inference service
// (core/ai.go: "gRPC proto (compiled separately) – minimal stub interface
// here"). No .pb.go is generated for this package; a real deployment wires
// a codegen'd client satisfying orderingRPCClient in its place.
//---------------------------------------------------------------------

// GRPCMstStateRequest carries one node's MST diff state.
type GRPCMstStateRequest struct {
	Batches []wireBatch
}

// GRPCBatchesRequest carries batches forwarded for a round.
type GRPCBatchesRequest struct {
	Round   Round
	Batches []wireBatch
}

// GRPCProposalRequest carries a proposal request for a round.
type GRPCProposalRequest struct {
	Round Round
}

// GRPCProposalResponse carries the (possibly nil) packed proposal.
type GRPCProposalResponse struct {
	Proposal *Proposal
}

// GRPCEmpty is the unary response to the two no-reply RPCs.
type GRPCEmpty struct{}

// orderingRPCClient is the minimal client-side stub shape for the three
// peer-to-peer RPCs of spec §6.1, satisfied by a generated protoc-gen-go-grpc
// client in production.
type orderingRPCClient interface {
	SendMstState(ctx context.Context, req *GRPCMstStateRequest, opts ...grpc.CallOption) (*GRPCEmpty, error)
	SendBatches(ctx context.Context, req *GRPCBatchesRequest, opts ...grpc.CallOption) (*GRPCEmpty, error)
	RequestProposal(ctx context.Context, req *GRPCProposalRequest, opts ...grpc.CallOption) (*GRPCProposalResponse, error)
}

// GRPCPeerDialer resolves an ordering PeerID to a gRPC client stub,
// dialing lazily and caching connections as the implementation sees fit.
type GRPCPeerDialer interface {
	Dial(id PeerID) (orderingRPCClient, error)
}

// GRPCTransport implements Transport over gRPC unary calls, one peer
// connection per PeerID via dialer (spec §6.1: "HTTP/2-like bidirectional
// RPC substrate").
type GRPCTransport struct {
	dialer GRPCPeerDialer
}

// NewGRPCTransport constructs a GRPCTransport.
func NewGRPCTransport(dialer GRPCPeerDialer) *GRPCTransport {
	return &GRPCTransport{dialer: dialer}
}

func (t *GRPCTransport) client(peerID PeerID) (orderingRPCClient, error) {
	c, err := t.dialer.Dial(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, peerID, err)
	}
	return c, nil
}

// SendMstState implements MstTransport.
func (t *GRPCTransport) SendMstState(ctx context.Context, peerID PeerID, state *State) error {
	c, err := t.client(peerID)
	if err != nil {
		return err
	}
	_, err = c.SendMstState(ctx, &GRPCMstStateRequest{Batches: toWireBatches(state.Batches())})
	return err
}

// SendBatches implements BatchTransport.
func (t *GRPCTransport) SendBatches(ctx context.Context, peerID PeerID, round Round, batches []*Batch) error {
	c, err := t.client(peerID)
	if err != nil {
		return err
	}
	_, err = c.SendBatches(ctx, &GRPCBatchesRequest{Round: round, Batches: toWireBatches(batches)})
	return err
}

// RequestProposal implements ProposalTransport. The deadline is carried
// entirely by ctx, as for every other RPC in this package.
func (t *GRPCTransport) RequestProposal(ctx context.Context, peerID PeerID, round Round) (*Proposal, error) {
	c, err := t.client(peerID)
	if err != nil {
		return nil, err
	}
	resp, err := c.RequestProposal(ctx, &GRPCProposalRequest{Round: round})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return resp.Proposal, nil
}
