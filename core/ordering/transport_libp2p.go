package ordering

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// OrderingProtocolID is the libp2p stream protocol the ordering pipeline's
// peer-to-peer RPCs are framed on (spec §6.1: "an HTTP/2-like bidirectional
// RPC substrate with length-prefixed message encoding").
const OrderingProtocolID = protocol.ID("/ordering/1.0.0")

// PeerResolver maps the ordering pipeline's opaque PeerID to a libp2p
// dialable address, the way the teacher's Node keeps its own NodeID->Peer
// book (core/common_structs.go, core/network.go).
type PeerResolver interface {
	Resolve(id PeerID) (peer.AddrInfo, error)
}

// envelopeKind tags which of the three RPCs a frame carries.
type envelopeKind string

const (
	envelopeMstState        envelopeKind = "mst_state"
	envelopeBatches         envelopeKind = "batches"
	envelopeRequestProposal envelopeKind = "request_proposal"
	envelopeProposalReply   envelopeKind = "proposal_reply"
)

type envelope struct {
	Kind    envelopeKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type mstStatePayload struct {
	Batches []wireBatch `json:"batches"`
}

type batchesPayload struct {
	Round   Round       `json:"round"`
	Batches []wireBatch `json:"batches"`
}

type requestProposalPayload struct {
	Round Round `json:"round"`
}

type proposalReplyPayload struct {
	Proposal *Proposal `json:"proposal"`
}

type wireBatch struct {
	Transactions []*Transaction `json:"transactions"`
	Meta         *BatchMeta     `json:"meta,omitempty"`
}

// LibP2PTransport implements Transport over libp2p host streams, one
// request/response frame per call, addressed via a PeerResolver (spec
// §6.1). Grounded on the teacher's libp2p-backed Node (core/network.go):
// same host/pubsub stack, generalized here from broadcast topics to
// unicast, length-prefixed framed request/response streams.
type LibP2PTransport struct {
	host     host.Host
	resolver PeerResolver
	log      logrus.FieldLogger
}

// LibP2PHandlers wires inbound frames on an accepted stream back into the
// local pipeline: OnMstState feeds the MST aggregator, OnBatches feeds the
// ordering service's round queues; OnRequestProposal answers an issuer
// request. Any
// handler may be nil on a node that never plays that role.
type LibP2PHandlers struct {
	OnMstState        func(peer PeerID, state *State)
	OnBatches         func(peer PeerID, round Round, batches []*Batch)
	OnRequestProposal func(ctx context.Context, round Round) (*Proposal, error)
}

// NewLibP2PTransport constructs a LibP2PTransport and registers its stream
// handler for inbound frames.
func NewLibP2PTransport(h host.Host, resolver PeerResolver, handlers LibP2PHandlers, log logrus.FieldLogger) *LibP2PTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &LibP2PTransport{host: h, resolver: resolver, log: log}
	h.SetStreamHandler(OrderingProtocolID, func(s network.Stream) {
		t.serve(s, handlers)
	})
	return t
}

func (t *LibP2PTransport) dial(ctx context.Context, id PeerID) (network.Stream, error) {
	info, err := t.resolver.Resolve(id)
	if err != nil {
		return nil, fmt.Errorf("ordering: resolve peer %s: %w", id, err)
	}
	if err := t.host.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", ErrTransportUnavailable, id, err)
	}
	s, err := t.host.NewStream(ctx, info.ID, OrderingProtocolID)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream to %s: %v", ErrTransportUnavailable, id, err)
	}
	return s, nil
}

func writeFrame(w io.Writer, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ordering: marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader) (envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("ordering: unmarshal frame: %w", err)
	}
	return env, nil
}

func toWireBatches(batches []*Batch) []wireBatch {
	out := make([]wireBatch, len(batches))
	for i, b := range batches {
		out[i] = wireBatch{Transactions: b.Transactions, Meta: b.Meta}
	}
	return out
}

func fromWireBatches(wire []wireBatch) []*Batch {
	out := make([]*Batch, len(wire))
	for i, w := range wire {
		out[i] = &Batch{Transactions: w.Transactions, Meta: w.Meta}
	}
	return out
}

// SendMstState implements MstTransport: a unary, no-response frame carrying
// the diff state's batches and their accumulated signatures.
func (t *LibP2PTransport) SendMstState(ctx context.Context, peerID PeerID, state *State) error {
	s, err := t.dial(ctx, peerID)
	if err != nil {
		return err
	}
	defer s.Close()

	payload, err := json.Marshal(mstStatePayload{Batches: toWireBatches(state.Batches())})
	if err != nil {
		return fmt.Errorf("ordering: marshal mst state: %w", err)
	}
	return writeFrame(s, envelope{Kind: envelopeMstState, Payload: payload})
}

// SendBatches implements BatchTransport: a unary, no-response frame carrying
// the round and the batches forwarded to it.
func (t *LibP2PTransport) SendBatches(ctx context.Context, peerID PeerID, round Round, batches []*Batch) error {
	s, err := t.dial(ctx, peerID)
	if err != nil {
		return err
	}
	defer s.Close()

	payload, err := json.Marshal(batchesPayload{Round: round, Batches: toWireBatches(batches)})
	if err != nil {
		return fmt.Errorf("ordering: marshal batches: %w", err)
	}
	return writeFrame(s, envelope{Kind: envelopeBatches, Payload: payload})
}

// RequestProposal implements ProposalTransport: opens a stream, sends the
// round, and reads back the issuer's (possibly empty) proposal. The
// deadline is enforced entirely by ctx.
func (t *LibP2PTransport) RequestProposal(ctx context.Context, peerID PeerID, round Round) (*Proposal, error) {
	s, err := t.dial(ctx, peerID)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	payload, err := json.Marshal(requestProposalPayload{Round: round})
	if err != nil {
		return nil, fmt.Errorf("ordering: marshal proposal request: %w", err)
	}
	if err := writeFrame(s, envelope{Kind: envelopeRequestProposal, Payload: payload}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	reply, err := readFrame(bufio.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	var out proposalReplyPayload
	if err := json.Unmarshal(reply.Payload, &out); err != nil {
		return nil, fmt.Errorf("ordering: unmarshal proposal reply: %w", err)
	}
	return out.Proposal, nil
}

// serve dispatches one inbound frame on an accepted stream to the matching
// handler, by envelope kind.
func (t *LibP2PTransport) serve(s network.Stream, handlers LibP2PHandlers) {
	defer s.Close()
	remote := PeerID(s.Conn().RemotePeer().String())
	r := bufio.NewReader(s)
	env, err := readFrame(r)
	if err != nil {
		t.log.WithField("error", err).Warn("ordering: libp2p transport read failed")
		return
	}
	switch env.Kind {
	case envelopeMstState:
		var req mstStatePayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			t.log.WithField("error", err).Warn("ordering: malformed mst state frame")
			return
		}
		if handlers.OnMstState == nil {
			return
		}
		state := NewState()
		for _, b := range fromWireBatches(req.Batches) {
			state.Insert(b)
		}
		handlers.OnMstState(remote, state)

	case envelopeBatches:
		var req batchesPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			t.log.WithField("error", err).Warn("ordering: malformed batches frame")
			return
		}
		if handlers.OnBatches != nil {
			handlers.OnBatches(remote, req.Round, fromWireBatches(req.Batches))
		}

	case envelopeRequestProposal:
		var req requestProposalPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			t.log.WithField("error", err).Warn("ordering: malformed proposal request")
			return
		}
		var proposal *Proposal
		if handlers.OnRequestProposal != nil {
			proposal, err = handlers.OnRequestProposal(context.Background(), req.Round)
			if err != nil {
				t.log.WithFields(logrus.Fields{"round": req.Round, "error": err}).Warn("ordering: proposal handler failed")
			}
		}
		payload, err := json.Marshal(proposalReplyPayload{Proposal: proposal})
		if err != nil {
			t.log.WithField("error", err).Warn("ordering: marshal proposal reply failed")
			return
		}
		if err := writeFrame(s, envelope{Kind: envelopeProposalReply, Payload: payload}); err != nil {
			t.log.WithField("error", err).Warn("ordering: write proposal reply failed")
		}

	default:
		t.log.WithField("kind", env.Kind).Debug("ordering: received unrecognized frame kind")
	}
}
