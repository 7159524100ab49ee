// Package wire implements the length-prefixed TLV wire protocol shared by
// the qnetd arbiter server and the qdevice-net arbiter client.
package wire

import "fmt"

// MsgType identifies a top-level protocol message.
type MsgType uint16

const (
	MsgPreinit MsgType = iota
	MsgPreinitReply
	MsgStartTLS
	MsgInit
	MsgInitReply
	MsgServerError
	MsgSetOption
	MsgSetOptionReply
	MsgEchoRequest
	MsgEchoReply
	MsgNodeList
	MsgNodeListReply
	MsgAskForVote
	MsgAskForVoteReply
	MsgVoteInfo
	MsgVoteInfoReply
	MsgHeuristicsChange
	MsgHeuristicsChangeReply
)

func (t MsgType) String() string {
	switch t {
	case MsgPreinit:
		return "Preinit"
	case MsgPreinitReply:
		return "PreinitReply"
	case MsgStartTLS:
		return "StartTls"
	case MsgInit:
		return "Init"
	case MsgInitReply:
		return "InitReply"
	case MsgServerError:
		return "ServerError"
	case MsgSetOption:
		return "SetOption"
	case MsgSetOptionReply:
		return "SetOptionReply"
	case MsgEchoRequest:
		return "EchoRequest"
	case MsgEchoReply:
		return "EchoReply"
	case MsgNodeList:
		return "NodeList"
	case MsgNodeListReply:
		return "NodeListReply"
	case MsgAskForVote:
		return "AskForVote"
	case MsgAskForVoteReply:
		return "AskForVoteReply"
	case MsgVoteInfo:
		return "VoteInfo"
	case MsgVoteInfoReply:
		return "VoteInfoReply"
	case MsgHeuristicsChange:
		return "HeuristicsChange"
	case MsgHeuristicsChangeReply:
		return "HeuristicsChangeReply"
	default:
		return fmt.Sprintf("MsgType(%d)", uint16(t))
	}
}

// OptionType identifies a TLV option carried inside a message payload.
type OptionType uint16

const (
	OptMsgSeqNumber OptionType = iota
	OptClusterName
	OptTLSSupported
	OptTLSClientCertRequired
	OptSupportedMessages
	OptSupportedOptions
	OptReplyErrorCode
	OptServerMaximumRequestSize
	OptServerMaximumReplySize
	OptNodeID
	OptSupportedDecisionAlgorithms
	OptDecisionAlgorithm
	OptHeartbeatInterval
	OptRingID
	OptConfigVersion
	OptDataCenterID
	OptNodeState
	OptNodeInfo
	OptNodeListType
	OptVote
	OptQuorate
	OptTieBreaker
	OptHeuristics
)

// TLSSupported mirrors the handshake-time TLS capability negotiation.
type TLSSupported uint8

const (
	TLSUnsupported TLSSupported = iota
	TLSSupportedOpt
	TLSRequired
)

// ReplyErrorCode is the typed error echoed on every error reply, per
// spec.md §4.6.
type ReplyErrorCode uint16

const (
	ErrNoError ReplyErrorCode = iota
	ErrUnsupportedNeededMessage
	ErrUnsupportedNeededOption
	ErrTLSRequired
	ErrUnsupportedMessage
	ErrMessageTooLong
	ErrPreinitRequired
	ErrDoesntContainRequiredOption
	ErrUnexpectedMessage
	ErrErrorDecodingMsg
	ErrInternalError
	ErrInitRequired
	ErrUnsupportedDecisionAlgorithm
	ErrInvalidHeartbeatInterval
	ErrUnsupportedDecisionAlgorithmMessage
	ErrTieBreakerDiffersFromOtherNodes
	ErrAlgorithmDiffersFromOtherNodes
	ErrDuplicateNodeID
	ErrInvalidConfigNodeList
	ErrInvalidMembershipNodeList
)

func (e ReplyErrorCode) String() string {
	names := [...]string{
		"NoError", "UnsupportedNeededMessage", "UnsupportedNeededOption",
		"TlsRequired", "UnsupportedMessage", "MessageTooLong", "PreinitRequired",
		"DoesntContainRequiredOption", "UnexpectedMessage", "ErrorDecodingMsg",
		"InternalError", "InitRequired", "UnsupportedDecisionAlgorithm",
		"InvalidHeartbeatInterval", "UnsupportedDecisionAlgorithmMessage",
		"TieBreakerDiffersFromOtherNodes", "AlgorithmDiffersFromOtherNodes",
		"DuplicateNodeId", "InvalidConfigNodeList", "InvalidMembershipNodeList",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("ReplyErrorCode(%d)", uint16(e))
}

// DecisionAlgorithm selects one of the four server-side vote strategies.
type DecisionAlgorithm uint8

const (
	AlgorithmTest DecisionAlgorithm = iota
	AlgorithmFFSplit
	Algorithm2NodeLMS
	AlgorithmLMS
)

func (a DecisionAlgorithm) String() string {
	switch a {
	case AlgorithmTest:
		return "test"
	case AlgorithmFFSplit:
		return "ffsplit"
	case Algorithm2NodeLMS:
		return "2nodelms"
	case AlgorithmLMS:
		return "lms"
	default:
		return fmt.Sprintf("DecisionAlgorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a config string to a DecisionAlgorithm.
func ParseAlgorithm(s string) (DecisionAlgorithm, bool) {
	switch s {
	case "test":
		return AlgorithmTest, true
	case "ffsplit":
		return AlgorithmFFSplit, true
	case "2nodelms":
		return Algorithm2NodeLMS, true
	case "lms":
		return AlgorithmLMS, true
	default:
		return 0, false
	}
}

// NodeState describes a node's standing within a node list option.
type NodeState uint8

const (
	NodeStateNotSet NodeState = iota
	NodeStateMember
	NodeStateDead
	NodeStateLeaving
)

// NodeListType distinguishes the four node-list flavors carried by NodeList
// messages.
type NodeListType uint8

const (
	NodeListInitialConfig NodeListType = iota
	NodeListChangedConfig
	NodeListMembership
	NodeListQuorum
)

// Vote is the outcome of a decision algorithm callback, per spec.md §3.
type Vote uint8

const (
	VoteUndefined Vote = iota
	VoteAck
	VoteNack
	VoteAskLater
	VoteWaitForReply
	VoteNoChange
)

func (v Vote) String() string {
	switch v {
	case VoteUndefined:
		return "undefined"
	case VoteAck:
		return "ack"
	case VoteNack:
		return "nack"
	case VoteAskLater:
		return "ask_later"
	case VoteWaitForReply:
		return "wait_for_reply"
	case VoteNoChange:
		return "no_change"
	default:
		return fmt.Sprintf("Vote(%d)", uint8(v))
	}
}

// Quorate tags whether a reported quorum node list currently has quorum.
type Quorate uint8

const (
	Inquorate Quorate = iota
	IsQuorate
)

// TieBreakerMode selects how a 50:50 split (or single-survivor tie) between
// partitions is resolved.
type TieBreakerMode uint8

const (
	TieBreakerLowest TieBreakerMode = iota + 1
	TieBreakerHighest
	TieBreakerNodeID
)

// TieBreaker is the tagged variant from spec.md §3. NodeID is only
// meaningful when Mode == TieBreakerNodeID.
type TieBreaker struct {
	Mode   TieBreakerMode
	NodeID uint32
}

func (t TieBreaker) String() string {
	switch t.Mode {
	case TieBreakerLowest:
		return "lowest"
	case TieBreakerHighest:
		return "highest"
	case TieBreakerNodeID:
		return fmt.Sprintf("node_id(%d)", t.NodeID)
	default:
		return "unknown"
	}
}

// Equal reports whether two tie-breakers denote the same rule — required
// by the cluster-wide consistency invariant in spec.md §3/§4.5.
func (t TieBreaker) Equal(o TieBreaker) bool {
	if t.Mode != o.Mode {
		return false
	}
	if t.Mode == TieBreakerNodeID {
		return t.NodeID == o.NodeID
	}
	return true
}

// HeuristicsResult is the outcome of the out-of-scope heuristics executor.
type HeuristicsResult uint8

const (
	HeuristicsUndefined HeuristicsResult = iota
	HeuristicsPass
	HeuristicsFail
)

func (h HeuristicsResult) String() string {
	switch h {
	case HeuristicsUndefined:
		return "undefined"
	case HeuristicsPass:
		return "pass"
	case HeuristicsFail:
		return "fail"
	default:
		return fmt.Sprintf("HeuristicsResult(%d)", uint8(h))
	}
}

// rank gives Fail < Undefined < Pass, the total order required by
// spec.md invariant 5.
func (h HeuristicsResult) rank() int {
	switch h {
	case HeuristicsFail:
		return 0
	case HeuristicsUndefined:
		return 1
	case HeuristicsPass:
		return 2
	default:
		return 1
	}
}

// Cmp implements tlv_heuristics_cmp: negative if a < b, zero if equal,
// positive if a > b, under Fail < Undefined < Pass.
func Cmp(a, b HeuristicsResult) int {
	return a.rank() - b.rank()
}

// RingID identifies a membership epoch; see spec.md §3.
type RingID struct {
	NodeID uint32
	Seq    uint64
}

// Equal is exact equality on both fields, per spec.md §3.
func (r RingID) Equal(o RingID) bool {
	return r.NodeID == o.NodeID && r.Seq == o.Seq
}

func (r RingID) String() string {
	return fmt.Sprintf("%d.%d", r.NodeID, r.Seq)
}

// NodeInfo is one entry of a node list option; it is itself a nested TLV
// sub-payload (spec.md §4.1).
type NodeInfo struct {
	NodeID       uint32
	DataCenterID uint32 // 0 == not set
	State        NodeState
}
