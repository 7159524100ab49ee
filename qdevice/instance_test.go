package qdevice

import (
	"testing"
	"time"

	"github.com/luxfi/qnetd/heuristics"
	qlog "github.com/luxfi/qnetd/log"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

func newTestInstance() (*Instance, *runtime.FakeRuntime, *heuristics.FakeExecutor, *[][]byte) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)
	heur := heuristics.NewFakeExecutor()
	conn := NewConnection(testParams())

	var sent [][]byte
	inst := NewInstance(conn, wheel, rt, heur, qlog.NoLog{}, 10*time.Millisecond, func(b []byte) {
		sent = append(sent, b)
	})
	return inst, rt, heur, &sent
}

func TestInstanceStartArmsEchoAndRunsHeuristics(t *testing.T) {
	inst, _, heur, _ := newTestInstance()
	inst.Start()

	require.Equal(t, StateWaitingVotequorumCmapEvents, inst.Conn.State())
	require.Equal(t, 1, heur.RunCount())
}

func TestInstanceMembershipChangePausesVoteAndSendsNodeList(t *testing.T) {
	inst, rt, heur, sent := newTestInstance()
	inst.Start()
	inst.applyVote(wire.VoteAck)

	inst.OnMembershipChanged(runtime.MembershipEvent{
		RingID: wire.RingID{NodeID: 1, Seq: 2},
		Nodes:  []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}},
	})

	require.Len(t, *sent, 1)
	require.Equal(t, 2, heur.RunCount()) // once from Start, once from the membership change

	// vote casting must stay paused until a reply (or heuristics) resumes it
	require.True(t, inst.castVote.paused)
	_ = rt
}

func TestInstanceNodeListReplyAppliesVoteAndResumesCasting(t *testing.T) {
	inst, rt, _, _ := newTestInstance()
	inst.Start()
	inst.castVote.SetPaused(true)

	inst.HandleNodeListReply(&wire.DecodedMessage{VoteSet: true, Vote: wire.VoteAck})

	require.False(t, inst.castVote.paused)
	require.Equal(t, wire.VoteAck, inst.lastVote)
	_ = rt
}

func TestInstanceNodeListReplyWithStaleRingIDLeavesVoteUnchanged(t *testing.T) {
	inst, _, _, _ := newTestInstance()
	inst.Start()
	inst.applyVote(wire.VoteNack)

	// A membership change is sent for R2, superseding the R1 the server is
	// about to reply to.
	inst.OnMembershipChanged(runtime.MembershipEvent{
		RingID: wire.RingID{NodeID: 1, Seq: 2},
		Nodes:  []wire.NodeInfo{{NodeID: 1}},
	})

	// The reply to the earlier R1 membership arrives after R2 was already
	// sent; its vote must be discarded rather than applied.
	inst.HandleNodeListReply(&wire.DecodedMessage{
		VoteSet:   true,
		Vote:      wire.VoteAck,
		RingIDSet: true,
		RingID:    wire.RingID{NodeID: 1, Seq: 1},
	})

	require.Equal(t, wire.VoteNack, inst.lastVote, "stale ring id reply must not change the cast-vote timer's vote")
}

func TestInstanceNodeListReplyWithCurrentRingIDAppliesVote(t *testing.T) {
	inst, _, _, _ := newTestInstance()
	inst.Start()

	inst.OnMembershipChanged(runtime.MembershipEvent{
		RingID: wire.RingID{NodeID: 1, Seq: 2},
		Nodes:  []wire.NodeInfo{{NodeID: 1}},
	})

	inst.HandleNodeListReply(&wire.DecodedMessage{
		VoteSet:   true,
		Vote:      wire.VoteAck,
		RingIDSet: true,
		RingID:    wire.RingID{NodeID: 1, Seq: 2},
	})

	require.Equal(t, wire.VoteAck, inst.lastVote)
}

func TestInstanceVoteInfoAppliesVoteAndAcks(t *testing.T) {
	inst, _, _, sent := newTestInstance()
	inst.Start()

	inst.HandleVoteInfo(&wire.DecodedMessage{SeqNumber: 42, Vote: wire.VoteNack})

	require.Equal(t, wire.VoteNack, inst.lastVote)
	require.Len(t, *sent, 1)
}

func TestInstanceHeuristicsResultPushesChangeAndResumesVoting(t *testing.T) {
	inst, _, _, sent := newTestInstance()
	inst.Start()
	inst.castVote.SetPaused(true)

	inst.OnHeuristicsResult(wire.HeuristicsPass)

	require.False(t, inst.castVote.paused)
	require.Equal(t, wire.HeuristicsPass, inst.lastHeuristics)
	require.Len(t, *sent, 1)
}

func newTestInstanceWithParams(params Params) (*Instance, *runtime.FakeRuntime, *heuristics.FakeExecutor, *[][]byte) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)
	heur := heuristics.NewFakeExecutor()
	conn := NewConnection(params)

	var sent [][]byte
	inst := NewInstance(conn, wheel, rt, heur, qlog.NoLog{}, 10*time.Millisecond, func(b []byte) {
		sent = append(sent, b)
	})
	return inst, rt, heur, &sent
}

func TestInstanceEchoMissedRequestsDisconnectByDefault(t *testing.T) {
	inst, _, _, _ := newTestInstance()
	inst.applyVote(wire.VoteAck)

	inst.onEchoMissed()

	select {
	case <-inst.Dead():
	default:
		t.Fatal("expected Dead to signal when echo is missed without lms/wait_for_all")
	}
}

func TestInstanceEchoMissedWithLMSWaitForAllAndGrantedAckContinuesVoting(t *testing.T) {
	params := testParams()
	params.Algorithm = wire.AlgorithmLMS
	params.WaitForAll = true
	inst, _, _, _ := newTestInstanceWithParams(params)
	inst.applyVote(wire.VoteAck)

	inst.onEchoMissed()

	select {
	case <-inst.Dead():
		t.Fatal("wait_for_all with a granted ack must not request disconnect")
	default:
	}
}

func TestInstanceEchoMissedWithLMSWaitForAllButNoAckStillDisconnects(t *testing.T) {
	params := testParams()
	params.Algorithm = wire.AlgorithmLMS
	params.WaitForAll = true
	inst, _, _, _ := newTestInstanceWithParams(params)
	inst.applyVote(wire.VoteNack)

	inst.onEchoMissed()

	select {
	case <-inst.Dead():
	default:
		t.Fatal("expected Dead to signal when the last vote wasn't a granted ack")
	}
}

func TestInstanceEchoReplyFeedsEchoTimer(t *testing.T) {
	inst, _, _, sent := newTestInstance()
	inst.Start()

	require.Len(t, *sent, 0)
	inst.HandleEchoReply(&wire.DecodedMessage{SeqNumberSet: true, SeqNumber: 1})
	require.False(t, inst.echo.haveReply && inst.echo.expectedSeq != 1)
}
