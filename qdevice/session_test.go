package qdevice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/luxfi/qnetd/heuristics"
	qlog "github.com/luxfi/qnetd/log"
	"github.com/luxfi/qnetd/qnetd"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

// fakeServer drives the real server-side Instance against conn, reusing
// qnetd's own handlers rather than a hand-rolled stub, so the handshake is
// exercised against authentic reply encoding on both ends.
func fakeServer(t *testing.T, conn net.Conn, inst *qnetd.Instance, client *qnetd.Client, stop <-chan struct{}) {
	t.Helper()
	buf := make([]byte, 65536)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		off := 0
		for off < n {
			msgType, payloadLen, decErr := wire.PeekHeader(buf[off:n])
			if decErr != nil {
				return
			}
			total := wire.HeaderLen + int(payloadLen)
			raw := append([]byte(nil), buf[off:off+total]...)
			off += total

			msg, err := wire.Decode(raw)
			if err != nil {
				return
			}

			var reply []byte
			switch msgType {
			case wire.MsgPreinit:
				reply = inst.HandlePreinit(client, msg, wire.TLSUnsupported, false)
			case wire.MsgInit:
				reply = inst.HandleInit(client, msg)
			case wire.MsgSetOption:
				reply = inst.HandleSetOption(client, msg)
			case wire.MsgNodeList:
				reply = inst.HandleNodeList(client, msg)
			case wire.MsgEchoRequest:
				reply = inst.HandleEchoRequest(raw)
			}
			if reply != nil {
				if _, err := conn.Write(reply); err != nil {
					return
				}
			}
		}
	}
}

func TestHandshakeCompletesWithoutTLS(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	inst := qnetd.NewInstance(qlog.NoLog{}, 32768, 32768)
	inst.Algorithms.TestEnabled = true
	srvClient := qnetd.NewClient(serverConn, 32, 32768)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go fakeServer(t, serverConn, inst, srvClient, stop)

	params := testParams()
	params.Algorithm = wire.AlgorithmTest
	dp := DialParams{MaxSendBuffers: 32, MaxReceiveSize: 32768}

	rt := runtime.NewFakeRuntime(1, 2)
	heur := heuristics.NewFakeExecutor()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := handshake(ctx, clientConn, dp, params, rt, heur, qlog.NoLog{}, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StateWaitingInitReply, sess.Inst.Conn.State())
}

func TestRunDispatchesRuntimeAndHeuristicsEvents(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	inst := qnetd.NewInstance(qlog.NoLog{}, 32768, 32768)
	inst.Algorithms.TestEnabled = true
	srvClient := qnetd.NewClient(serverConn, 32, 32768)

	stop := make(chan struct{})
	go fakeServer(t, serverConn, inst, srvClient, stop)

	params := testParams()
	params.Algorithm = wire.AlgorithmTest
	dp := DialParams{MaxSendBuffers: 32, MaxReceiveSize: 32768}

	rt := runtime.NewFakeRuntime(1, 2)
	heur := heuristics.NewFakeExecutor()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	sess, err := handshake(dialCtx, clientConn, dp, params, rt, heur, qlog.NoLog{}, 100*time.Millisecond)
	require.NoError(t, err)

	runCtx, runCancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(runCtx) }()

	rt.Emit(runtime.MembershipEvent{
		RingID:  wire.RingID{NodeID: 1, Seq: 2},
		Nodes:   []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}},
		Quorate: wire.Inquorate,
	})
	heur.Push(wire.HeuristicsPass)

	// The test algorithm Acks any membership list; once the Ack round
	// trips back through NodeListReply, the cast-vote timer (armed at the
	// heartbeat interval) should report a nonzero vote to the local runtime.
	require.Eventually(t, func() bool {
		return len(rt.CastVotes) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected a cast vote after membership Ack")

	close(stop)
	runCancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
}
