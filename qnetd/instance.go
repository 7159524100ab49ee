package qnetd

import (
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/qnetd/algo"
	"github.com/luxfi/qnetd/wire"
)

// supportedMessages and supportedOptions are advertised verbatim in every
// PreinitReply/InitReply, matching what qnetd-instance.c's static support
// tables would contain.
var (
	supportedMessages = []wire.MsgType{
		wire.MsgPreinit, wire.MsgPreinitReply, wire.MsgStartTLS, wire.MsgInit,
		wire.MsgInitReply, wire.MsgServerError, wire.MsgSetOption, wire.MsgSetOptionReply,
		wire.MsgEchoRequest, wire.MsgEchoReply, wire.MsgNodeList, wire.MsgNodeListReply,
		wire.MsgAskForVote, wire.MsgAskForVoteReply, wire.MsgVoteInfo, wire.MsgVoteInfoReply,
		wire.MsgHeuristicsChange, wire.MsgHeuristicsChangeReply,
	}
	supportedOptions = []wire.OptionType{
		wire.OptMsgSeqNumber, wire.OptClusterName, wire.OptTLSSupported, wire.OptTLSClientCertRequired,
		wire.OptSupportedMessages, wire.OptSupportedOptions, wire.OptReplyErrorCode,
		wire.OptServerMaximumRequestSize, wire.OptServerMaximumReplySize, wire.OptNodeID,
		wire.OptSupportedDecisionAlgorithms, wire.OptDecisionAlgorithm, wire.OptHeartbeatInterval,
		wire.OptRingID, wire.OptConfigVersion, wire.OptDataCenterID, wire.OptNodeState,
		wire.OptNodeInfo, wire.OptNodeListType, wire.OptVote, wire.OptQuorate, wire.OptTieBreaker,
		wire.OptHeuristics,
	}
)

// IsKnownMessage reports whether mt is one this server build supports,
// used to gate netio.Assembler's skip-unknown-type path.
func IsKnownMessage(mt wire.MsgType) bool {
	for _, m := range supportedMessages {
		if m == mt {
			return true
		}
	}
	return false
}

// Algorithms selects one Algorithm implementation per wire.DecisionAlgorithm,
// matching qnetd-algorithm.c's qnetd_algorithm_register_all table.
type Algorithms struct {
	TestEnabled bool
}

// Select returns the Algorithm for alg, or false if it is disabled (the
// `test` algorithm requires an explicit advanced-settings opt-in, per
// spec.md §4.4.1).
func (a Algorithms) Select(alg wire.DecisionAlgorithm) (algo.Algorithm, bool) {
	switch alg {
	case wire.AlgorithmTest:
		if !a.TestEnabled {
			return nil, false
		}
		return algo.Test{}, true
	case wire.AlgorithmFFSplit:
		return algo.FFSplit{}, true
	case wire.Algorithm2NodeLMS:
		return algo.TwoNodeLMS{}, true
	case wire.AlgorithmLMS:
		return algo.LMS{}, true
	default:
		return nil, false
	}
}

// Instance is the server-wide state shared by every connection: the
// cluster registry and the algorithm table. One Instance serves every
// client the reactor goroutine dispatches to it (Design Notes §9: "no
// global singleton" — the caller owns this value instead of it being
// package-level state).
type Instance struct {
	Registry   *Registry
	Algorithms Algorithms
	Log        log.Logger
	Metrics    *metrics.ServerMetrics

	MaxRequestSize int
	MaxReplySize   int
}

// NewInstance creates a server instance ready to accept clients, with
// metrics disabled (Metrics is nil and every metrics call becomes a no-op).
// Use SetMetrics to attach a *metrics.ServerMetrics built against the
// process's Prometheus registerer.
func NewInstance(l log.Logger, maxRequestSize, maxReplySize int) *Instance {
	return &Instance{
		Registry:       NewRegistry(),
		Log:            l,
		MaxRequestSize: maxRequestSize,
		MaxReplySize:   maxReplySize,
	}
}

// SetMetrics attaches m; passing nil disables instrumentation again.
func (inst *Instance) SetMetrics(m *metrics.ServerMetrics) {
	inst.Metrics = m
}

// HandlePreinit implements handshake step 1/2 (spec.md §4.3): mark the
// latch and build a PreinitReply. The cluster name is not checked here;
// HandleInit registers the client under the name its Init carries.
func (inst *Instance) HandlePreinit(client *Client, msg *wire.DecodedMessage, tlsSupported wire.TLSSupported, clientCertRequired bool) []byte {
	client.handshake.PreinitReceived = true
	return wire.EncodePreinitReply(msg.SeqNumber, tlsSupported, clientCertRequired)
}

// HandleInit implements handshake steps 5/6: validate the init message
// against the cluster registry (spec.md §4.5), pick an algorithm, and
// build the InitReply.
func (inst *Instance) HandleInit(client *Client, msg *wire.DecodedMessage) []byte {
	if !client.handshake.PreinitReceived {
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrPreinitRequired)
	}

	client.nodeID = msg.NodeID
	client.ringID = msg.RingID
	client.tieBreaker = msg.TieBreaker
	client.algorithm = msg.DecisionAlgorithm

	if err := inst.Registry.Join(msg.ClusterName, client); err != nil {
		inst.Metrics.ClientRejected()
		return wire.EncodeServerError(msg.SeqNumber, true, ErrorCode(err))
	}

	alg, ok := inst.Algorithms.Select(msg.DecisionAlgorithm)
	if !ok {
		inst.Registry.Leave(client)
		inst.Metrics.ClientRejected()
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrUnsupportedDecisionAlgorithm)
	}
	if code, err := alg.Init(client); err != nil || code != wire.ErrNoError {
		inst.Registry.Leave(client)
		inst.Metrics.ClientRejected()
		if code == wire.ErrNoError {
			code = wire.ErrInternalError
		}
		return wire.EncodeServerError(msg.SeqNumber, true, code)
	}

	client.handshake.InitReceived = true
	inst.Metrics.ClientConnected(msg.ClusterName)
	inst.Metrics.SetClustersActive(len(inst.Registry.Clusters()))

	supportedAlgorithms := []wire.DecisionAlgorithm{wire.AlgorithmFFSplit, wire.Algorithm2NodeLMS, wire.AlgorithmLMS}
	if inst.Algorithms.TestEnabled {
		supportedAlgorithms = append(supportedAlgorithms, wire.AlgorithmTest)
	}

	return wire.EncodeInitReply(wire.InitReplyParams{
		Seq:                         msg.SeqNumber,
		ReplyErrorCode:              wire.ErrNoError,
		SupportedMessages:           supportedMessages,
		SupportedOptions:            supportedOptions,
		ServerMaximumRequestSize:    uint32(inst.MaxRequestSize),
		ServerMaximumReplySize:      uint32(inst.MaxReplySize),
		SupportedDecisionAlgorithms: supportedAlgorithms,
	})
}

// HandleSetOption implements the SetOption leg of handshake step 7: it
// echoes the requested heartbeat interval and tie-breaker back (the
// tie-breaker from Init when the message carries none), matching
// qnetd-client-msg-received.c's MSG_TYPE_SET_OPTION arm. Neither value is
// stored on the client, and the heartbeat interval is not range-checked.
func (inst *Instance) HandleSetOption(client *Client, msg *wire.DecodedMessage) []byte {
	heartbeat := msg.HeartbeatInterval
	tb := client.tieBreaker
	if msg.TieBreakerSet {
		tb = msg.TieBreaker
	}
	return wire.EncodeSetOptionReply(msg.SeqNumber, heartbeat, tb)
}

// HandleNodeList dispatches a NodeList message to the algorithm callback
// matching its NodeListType, and builds the NodeListReply carrying the
// resulting vote. Matches qnetd-client-msg-received.c's
// MSG_TYPE_NODE_LIST arm.
func (inst *Instance) HandleNodeList(client *Client, msg *wire.DecodedMessage) []byte {
	alg, ok := inst.Algorithms.Select(client.algorithm)
	if !ok {
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrUnsupportedDecisionAlgorithm)
	}

	listType := msg.NodeListType
	var code wire.ReplyErrorCode
	var vote wire.Vote

	start := time.Now()
	switch listType {
	case wire.NodeListInitialConfig, wire.NodeListChangedConfig:
		client.SetConfigNodeList(msg.Nodes)
		code, vote = alg.ConfigNodeListReceived(client, msg.SeqNumber, algo.NodeList{
			Nodes:            msg.Nodes,
			ConfigVersionSet: msg.ConfigVersionSet,
			ConfigVersion:    msg.ConfigVersion,
			Initial:          listType == wire.NodeListInitialConfig,
		})
	case wire.NodeListMembership:
		client.SetMembershipNodeList(msg.Nodes)
		if msg.RingIDSet {
			client.SetLastRingID(msg.RingID)
		}
		client.SetHeuristics(msg.Heuristics)
		code, vote = alg.MembershipNodeListReceived(client, msg.SeqNumber, msg.RingID, msg.Nodes, msg.Heuristics)
	case wire.NodeListQuorum:
		code, vote = alg.QuorumNodeListReceived(client, msg.SeqNumber, msg.Quorate, msg.Nodes)
	default:
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrUnsupportedMessage)
	}
	inst.Metrics.ObserveDecision(client.algorithm, time.Since(start))

	if code != wire.ErrNoError {
		return wire.EncodeServerError(msg.SeqNumber, true, code)
	}

	hasVote := vote != wire.VoteNoChange
	if hasVote {
		client.SetLastSentVote(vote)
		inst.Metrics.VoteCast(client.clusterName, vote)
	}
	return wire.EncodeNodeListReply(msg.SeqNumber, wire.ErrNoError, listType, vote, hasVote)
}

// HandleAskForVote implements the explicit startup vote request.
func (inst *Instance) HandleAskForVote(client *Client, msg *wire.DecodedMessage) []byte {
	alg, ok := inst.Algorithms.Select(client.algorithm)
	if !ok {
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrUnsupportedDecisionAlgorithm)
	}
	start := time.Now()
	code, vote := alg.AskForVoteReceived(client, msg.SeqNumber)
	inst.Metrics.ObserveDecision(client.algorithm, time.Since(start))
	if code != wire.ErrNoError {
		return wire.EncodeServerError(msg.SeqNumber, true, code)
	}
	hasVote := vote != wire.VoteNoChange
	if hasVote {
		client.SetLastSentVote(vote)
		inst.Metrics.VoteCast(client.clusterName, vote)
	}
	return wire.EncodeAskForVoteReply(msg.SeqNumber, wire.ErrNoError, vote, hasVote)
}

// HandleHeuristicsChange applies a client's heuristics result push.
func (inst *Instance) HandleHeuristicsChange(client *Client, msg *wire.DecodedMessage) []byte {
	alg, ok := inst.Algorithms.Select(client.algorithm)
	if !ok {
		return wire.EncodeServerError(msg.SeqNumber, true, wire.ErrUnsupportedDecisionAlgorithm)
	}
	client.SetHeuristics(msg.Heuristics)
	start := time.Now()
	code, vote := alg.HeuristicsChangeReceived(client, msg.SeqNumber, msg.Heuristics)
	inst.Metrics.ObserveDecision(client.algorithm, time.Since(start))
	if code != wire.ErrNoError {
		return wire.EncodeServerError(msg.SeqNumber, true, code)
	}
	hasVote := vote != wire.VoteNoChange
	if hasVote {
		client.SetLastSentVote(vote)
		inst.Metrics.VoteCast(client.clusterName, vote)
	}
	return wire.EncodeHeuristicsChangeReply(msg.SeqNumber, wire.ErrNoError, vote, hasVote)
}

// HandleVoteInfoReply acknowledges a client's ack of an unsolicited
// VoteInfo push (ffsplit's NACK-before-ACK ordering); it produces no
// reply of its own.
func (inst *Instance) HandleVoteInfoReply(client *Client, msg *wire.DecodedMessage) {
	if alg, ok := inst.Algorithms.Select(client.algorithm); ok {
		alg.VoteInfoReplyReceived(client, msg.SeqNumber)
	}
}

// HandleEchoRequest builds the EchoReply: a byte-for-byte copy of the
// raw framed request with its message type overwritten, per spec.md §6.
func (inst *Instance) HandleEchoRequest(raw []byte) []byte {
	return wire.EncodeEchoReply(raw)
}

// Disconnect tears down client's registration and notifies its algorithm,
// matching qnetd_algorithm_client_disconnect's contract.
func (inst *Instance) Disconnect(client *Client, serverGoingDown bool) {
	client.MarkDisconnected()
	inst.Metrics.ClientDisconnected(client.clusterName)
	if alg, ok := inst.Algorithms.Select(client.algorithm); ok {
		alg.Disconnect(client, serverGoingDown)
	}
	if serverGoingDown {
		return
	}
	// The algorithm above has already re-evaluated the peers with this
	// client still registered (marked disconnected); now remove it, which
	// also removes its cluster if it was the last client.
	inst.Registry.Leave(client)
	inst.Metrics.SetClustersActive(len(inst.Registry.Clusters()))
}
