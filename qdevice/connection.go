package qdevice

import (
	"errors"
	"fmt"

	"github.com/luxfi/qnetd/wire"
)

// State is the client-side connection state machine label, per spec.md
// §4.3's "Client states" list.
type State uint8

const (
	StateWaitingConnect State = iota
	StateSendingPreinitReply // unused on the client; retained for symmetry with the server's shared label set
	StateWaitingPreinitReply
	StateWaitingStarttlsBeingSent
	StateWaitingInitReply
	StateWaitingVotequorumCmapEvents // steady state
)

func (s State) String() string {
	switch s {
	case StateWaitingConnect:
		return "WaitingConnect"
	case StateSendingPreinitReply:
		return "SendingPreinitReply"
	case StateWaitingPreinitReply:
		return "WaitingPreinitReply"
	case StateWaitingStarttlsBeingSent:
		return "WaitingStarttlsBeingSent"
	case StateWaitingInitReply:
		return "WaitingInitReply"
	case StateWaitingVotequorumCmapEvents:
		return "WaitingVotequorumCmapEvents"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ErrIncompatibleTLS is returned when the client and server TLS modes
// cannot be reconciled, per spec.md §4.3 step 3.
var ErrIncompatibleTLS = errors.New("qdevice: incompatible tls negotiation")

// ErrUnexpectedReply is returned when a reply's echoed seq doesn't match
// the in-flight request, per spec.md §4.3's sequence discipline.
var ErrUnexpectedReply = errors.New("qdevice: reply seq does not match in-flight request")

// ErrInitRejected wraps a non-NoError InitReply error code.
type ErrInitRejected struct {
	Code wire.ReplyErrorCode
}

func (e *ErrInitRejected) Error() string {
	return fmt.Sprintf("qdevice: server rejected init: %s", e.Code)
}

// Params bundles everything the handshake needs to build the Init message
// (spec.md §4.3 step 5), sourced from config.ClientConfig.
type Params struct {
	NodeID            uint32
	ClusterName       string
	RingID            wire.RingID
	HeartbeatInterval uint32
	TieBreaker        wire.TieBreaker
	Algorithm         wire.DecisionAlgorithm
	MinSendSize       uint32
	MaxReceiveSize    uint32
	TLSMode           wire.TLSSupported
	ServerCertCN      string

	// WaitForAll mirrors corosync's quorum.wait_for_all; see
	// Instance.onEchoMissed and spec.md §4.6 / scenario S7.
	WaitForAll bool
}

// Algorithm reports the configured decision algorithm, used by
// Instance.onEchoMissed to apply lms's wait_for_all override.
func (c *Connection) Algorithm() wire.DecisionAlgorithm { return c.params.Algorithm }

// WaitForAll reports whether the local cluster config has wait_for_all
// enabled.
func (c *Connection) WaitForAll() bool { return c.params.WaitForAll }

// Connection drives the client side of the handshake in spec.md §4.3
// steps 1–7. It owns the sequence counter and the negotiated server
// bounds, but never touches the socket directly — TLSUpgrade and message
// I/O are supplied by the caller so Connection stays testable without a
// real network.
type Connection struct {
	params Params
	state  State
	seq    uint32

	serverMaxRequestSize uint32
	serverMaxReplySize   uint32
	supportedAlgorithms  []wire.DecisionAlgorithm
}

// NewConnection creates a connection ready to begin the handshake.
func NewConnection(params Params) *Connection {
	return &Connection{params: params, state: StateWaitingConnect}
}

// State reports the connection's current state-machine label.
func (c *Connection) State() State { return c.state }

// BuildPreinit produces the first handshake message (step 1) and
// transitions to WaitingPreinitReply.
func (c *Connection) BuildPreinit() []byte {
	c.seq = 1
	c.state = StateWaitingPreinitReply
	return wire.EncodePreinit(c.seq, c.params.ClusterName)
}

// HandlePreinitReply implements steps 2–4: validates the seq, resolves the
// TLS intersection, and either returns a StartTls message to send or nil
// if TLS should be skipped. serverTLS is the value decoded from
// PreinitReply.
func (c *Connection) HandlePreinitReply(seq uint32, serverTLS wire.TLSSupported) ([]byte, error) {
	if seq != c.seq {
		return nil, ErrUnexpectedReply
	}

	clientWants := c.params.TLSMode

	if clientWants == wire.TLSUnsupported && serverTLS == wire.TLSRequired {
		return nil, ErrIncompatibleTLS
	}
	if clientWants == wire.TLSRequired && serverTLS == wire.TLSUnsupported {
		return nil, ErrIncompatibleTLS
	}
	if clientWants == wire.TLSUnsupported && serverTLS == wire.TLSUnsupported {
		c.state = StateWaitingInitReply
		return nil, nil
	}
	if clientWants == wire.TLSSupportedOpt && serverTLS == wire.TLSSupportedOpt {
		c.state = StateWaitingInitReply
		return nil, nil
	}

	c.seq++
	c.state = StateWaitingStarttlsBeingSent
	return wire.NewEncoder(wire.MsgStartTLS).U32(wire.OptMsgSeqNumber, c.seq).Finish(), nil
}

// BuildInit implements step 5, called once the TLS layer (if any) has been
// installed over the socket by the caller after StartTls was physically
// written.
func (c *Connection) BuildInit(supportedMessages []wire.MsgType, supportedOptions []wire.OptionType) []byte {
	if c.state == StateWaitingStarttlsBeingSent {
		c.seq++
	}
	c.state = StateWaitingInitReply
	return wire.EncodeInit(wire.InitParams{
		Seq:               c.seq,
		NodeID:            c.params.NodeID,
		RingID:            c.params.RingID,
		HeartbeatInterval: c.params.HeartbeatInterval,
		TieBreaker:        c.params.TieBreaker,
		Algorithm:         c.params.Algorithm,
		SupportedMessages: supportedMessages,
		SupportedOptions:  supportedOptions,
	})
}

// HandleInitReply implements step 7's validation: error code, size
// envelope, and algorithm membership. On success it records the server's
// advertised bounds and transitions toward steady state (the caller still
// needs to send SetOption and await SetOptionReply before calling
// EnterSteadyState).
func (c *Connection) HandleInitReply(msg *wire.DecodedMessage) error {
	if msg.ReplyErrorCode != wire.ErrNoError {
		return &ErrInitRejected{Code: msg.ReplyErrorCode}
	}
	if msg.ServerMaximumReplySize < c.params.MaxReceiveSize {
		return fmt.Errorf("qdevice: server reply size %d smaller than our receive buffer %d", msg.ServerMaximumReplySize, c.params.MaxReceiveSize)
	}
	if msg.ServerMaximumRequestSize < c.params.MinSendSize {
		return fmt.Errorf("qdevice: server request size %d smaller than our minimum send size %d", msg.ServerMaximumRequestSize, c.params.MinSendSize)
	}

	algFound := false
	for _, a := range msg.SupportedDecisionAlgorithms {
		if a == c.params.Algorithm {
			algFound = true
			break
		}
	}
	if !algFound {
		return fmt.Errorf("qdevice: server does not support algorithm %s", c.params.Algorithm)
	}

	c.serverMaxRequestSize = msg.ServerMaximumRequestSize
	c.serverMaxReplySize = msg.ServerMaximumReplySize
	c.supportedAlgorithms = msg.SupportedDecisionAlgorithms
	return nil
}

// BuildSetOption implements the SetOption leg of step 7.
func (c *Connection) BuildSetOption(heartbeatInterval uint32, tieBreaker wire.TieBreaker) []byte {
	c.seq++
	return wire.EncodeSetOption(c.seq, heartbeatInterval, tieBreaker)
}

// EnterSteadyState transitions to WaitingVotequorumCmapEvents once
// SetOptionReply has been received, matching the end of step 7.
func (c *Connection) EnterSteadyState() {
	c.state = StateWaitingVotequorumCmapEvents
}

// NextSeq increments and returns the request sequence counter used for
// every subsequent steady-state message (NodeList, HeuristicsChange,
// EchoRequest).
func (c *Connection) NextSeq() uint32 {
	c.seq++
	return c.seq
}

// ServerMaxRequestSize/ServerMaxReplySize expose the negotiated bounds
// (invariant 2 in spec.md §8).
func (c *Connection) ServerMaxRequestSize() uint32 { return c.serverMaxRequestSize }
func (c *Connection) ServerMaxReplySize() uint32   { return c.serverMaxReplySize }
