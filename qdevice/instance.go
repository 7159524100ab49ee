package qdevice

import (
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/qnetd/heuristics"
	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
)

// Instance is the client-wide state for one arbiter connection: the
// handshake/connection state machine, the cast-vote and echo timers, and
// the collaborators (local cluster runtime, heuristics executor) it
// bridges between. One Instance serves one server connection, mirroring
// qnetd.Instance on the other side of the wire.
//
// Grounded on original_source/qdevices/qdevice-net-instance.c/.h.
type Instance struct {
	Conn    *Connection
	Log     log.Logger
	Runtime runtime.ClusterRuntime
	Heur    heuristics.Executor

	castVote *CastVoteTimer
	echo     *EchoTimer

	send func([]byte)

	configVersion   uint64
	lastMembership  []wire.NodeInfo
	lastRingID      wire.RingID
	lastSentRingID  wire.RingID
	lastVote        wire.Vote
	lastHeuristics  wire.HeuristicsResult
	heartbeatPeriod time.Duration

	dead chan struct{}
}

// NewInstance wires a client instance together. send writes an already
// framed message to the server connection; heartbeat is the negotiated
// HeartbeatInterval used for both the cast-vote and echo cadences.
func NewInstance(conn *Connection, wheel *timerwheel.Wheel, rt runtime.ClusterRuntime, heur heuristics.Executor, l log.Logger, heartbeat time.Duration, send func([]byte)) *Instance {
	inst := &Instance{
		Conn:            conn,
		Log:             l,
		Runtime:         rt,
		Heur:            heur,
		send:            send,
		heartbeatPeriod: heartbeat,
		lastVote:        wire.VoteUndefined,
		lastHeuristics:  wire.HeuristicsUndefined,
		dead:            make(chan struct{}, 1),
	}
	inst.castVote = NewCastVoteTimer(wheel, rt, heartbeat)
	inst.echo = NewEchoTimer(wheel, heartbeat, inst.sendEchoRequest, inst.onEchoMissed)
	return inst
}

// SetMetrics attaches m to the cast-vote timer; passing nil disables
// instrumentation again.
func (inst *Instance) SetMetrics(m *metrics.ClientMetrics) {
	inst.castVote.SetMetrics(m)
}

// Start enters steady state: arms the echo timer and runs the heuristics
// executor once. It sends nothing itself; node lists go out through
// OnMembershipChanged, SendConfigNodeList and SendQuorumNodeList.
// Matches the tail of spec.md §4.3 step 7.
func (inst *Instance) Start() {
	inst.Conn.EnterSteadyState()
	inst.echo.Start()
	inst.Heur.Run()
}

func (inst *Instance) sendEchoRequest(seq uint32) {
	inst.send(wire.EncodeEchoRequest(seq))
}

// onEchoMissed fires when an EchoReply never arrived within one heartbeat
// window. The default behavior requests disconnect by signaling Dead, for
// the reactor loop (Session.Run) to tear down and redial the connection,
// matching qdevice-net-echo-request-timer.c's disconnect path. lms
// overrides this: if the last vote granted was Ack and wait_for_all is
// enabled locally, the server's absence doesn't flip the vote — the
// client keeps asserting Ack until the local cluster runtime says
// otherwise (spec.md §4.6, scenario S7).
func (inst *Instance) onEchoMissed() {
	if inst.Conn.Algorithm() == wire.AlgorithmLMS && inst.Conn.WaitForAll() && inst.lastVote == wire.VoteAck {
		inst.Log.Debug("echo reply missed but wait_for_all holds the last granted ack")
		return
	}
	inst.Log.Warn("echo reply missed, connection considered dead")
	select {
	case inst.dead <- struct{}{}:
	default:
	}
}

// Dead signals once an echo miss has requested disconnect (unless lms's
// wait_for_all override applied), for Session.Run to select on.
func (inst *Instance) Dead() <-chan struct{} {
	return inst.dead
}

// HandleEchoReply feeds a received EchoReply's sequence number to the echo
// timer's liveness tracker.
func (inst *Instance) HandleEchoReply(msg *wire.DecodedMessage) {
	if msg.SeqNumberSet {
		inst.echo.OnReply(msg.SeqNumber)
	}
}

// OnMembershipChanged pushes a new NodeList (config and/or membership,
// depending on what changed) to the server and pauses vote casting until
// heuristics have re-run against the new view, per spec.md §4.3's
// "membership change" paragraph.
func (inst *Instance) OnMembershipChanged(ev runtime.MembershipEvent) {
	inst.castVote.SetPaused(true)
	inst.lastMembership = ev.Nodes
	inst.lastRingID = ev.RingID
	inst.lastSentRingID = ev.RingID

	seq := inst.Conn.NextSeq()
	inst.send(wire.EncodeNodeList(wire.NodeListParams{
		Seq:           seq,
		ListType:      wire.NodeListMembership,
		RingID:        ev.RingID,
		HasRingID:     true,
		Nodes:         ev.Nodes,
		Heuristics:    inst.lastHeuristics,
		HasHeuristics: true,
	}))

	inst.Heur.Run()
}

// SendConfigNodeList pushes the initial (or changed) configuration node
// list, distinct from the runtime membership list: config changes come
// from the local corosync.conf, not from votequorum callbacks.
func (inst *Instance) SendConfigNodeList(nodes []wire.NodeInfo, configVersion uint64, changed bool) {
	inst.configVersion = configVersion
	listType := wire.NodeListInitialConfig
	if changed {
		listType = wire.NodeListChangedConfig
	}
	seq := inst.Conn.NextSeq()
	inst.send(wire.EncodeNodeList(wire.NodeListParams{
		Seq:              seq,
		ListType:         listType,
		HasConfigVersion: true,
		ConfigVersion:    configVersion,
		Nodes:            nodes,
	}))
}

// SendQuorumNodeList reports the local runtime's quorum view, the third of
// the three NodeList flavors a client emits (spec.md §4.3).
func (inst *Instance) SendQuorumNodeList(nodes []wire.NodeInfo, quorate wire.Quorate) {
	seq := inst.Conn.NextSeq()
	_ = quorate // carried in NodeState per node, not as a standalone option
	inst.send(wire.EncodeNodeList(wire.NodeListParams{
		Seq:      seq,
		ListType: wire.NodeListQuorum,
		Nodes:    nodes,
	}))
}

// HandleNodeListReply applies the server's vote decision for a previously
// sent NodeList, per spec.md §4.3/§4.4: the reply's vote (if present)
// drives the cast-vote timer exactly like AskForVoteReply/VoteInfo do.
//
// A reply whose ring_id no longer matches the ring_id of the most
// recently sent membership NodeList is stale: a newer membership report
// is already in flight (or has already been answered), so the vote it
// carries is discarded in favor of NoChange, leaving the cast-vote timer
// exactly as it was. Grounded on qdevice_net_msg_received_node_list_reply's
// ring_id_is_valid handling.
func (inst *Instance) HandleNodeListReply(msg *wire.DecodedMessage) {
	if msg.VoteSet {
		vote := msg.Vote
		if msg.RingIDSet && !msg.RingID.Equal(inst.lastSentRingID) {
			vote = wire.VoteNoChange
		}
		if vote != wire.VoteNoChange {
			inst.applyVote(vote)
		}
	}
	inst.castVote.SetPaused(false)
}

// HandleAskForVoteReply applies a vote received in response to an explicit
// AskForVote, used on startup before any membership change has occurred.
func (inst *Instance) HandleAskForVoteReply(msg *wire.DecodedMessage) {
	if msg.VoteSet {
		inst.applyVote(msg.Vote)
	}
}

// HandleVoteInfo applies an unsolicited vote push (ffsplit's NACK-before-
// ACK ordering) and acknowledges it.
func (inst *Instance) HandleVoteInfo(msg *wire.DecodedMessage) {
	inst.applyVote(msg.Vote)
	inst.send(wire.EncodeVoteInfoReply(msg.SeqNumber))
}

func (inst *Instance) applyVote(v wire.Vote) {
	inst.lastVote = v
	inst.castVote.SetVote(v)
}

// OnHeuristicsResult pushes a HeuristicsChange to the server and resumes
// vote casting once the result is known, matching
// qdevice-net-heuristics.c's completion callback.
func (inst *Instance) OnHeuristicsResult(result wire.HeuristicsResult) {
	inst.lastHeuristics = result
	seq := inst.Conn.NextSeq()
	inst.send(wire.EncodeHeuristicsChange(seq, result))
	inst.castVote.SetPaused(false)
}

// HandleHeuristicsChangeReply applies the server's vote decision attached
// to a HeuristicsChangeReply.
func (inst *Instance) HandleHeuristicsChangeReply(msg *wire.DecodedMessage) {
	if msg.VoteSet {
		inst.applyVote(msg.Vote)
	}
}

// Stop disarms both timers, e.g. before tearing down the connection.
func (inst *Instance) Stop() {
	inst.castVote.SetPaused(true)
	inst.echo.Stop()
}
