// Package qnetd implements the arbiter server: the cluster/client registry
// and per-connection handshake state machine described in spec.md §4.3–§4.5.
//
// Grounded on original_source/qdevices/qnetd-client.c/.h,
// qnetd-cluster.c/.h, and qnetd-clients-list.c/.h, rewritten as owned Go
// collections (map/slice) in place of the source's intrusive TAILQs,
// per Design Notes §9.
package qnetd

import (
	"net"
	"sync"

	"github.com/luxfi/qnetd/netio"
	"github.com/luxfi/qnetd/qnetd/algo"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
)

// HandshakeState is the set of per-client boolean latches spec.md §4.3
// names for the server side, bundled into one small struct rather than
// four discrete bools scattered across the Client type.
type HandshakeState struct {
	PreinitReceived     bool
	InitReceived         bool
	TLSStarted           bool
	TLSPeerCertVerified bool
}

// Client is one connected arbiter-client's server-side record: identity,
// negotiated parameters, last-known cluster state, and algorithm-visible
// vote bookkeeping. It implements algo.Client.
type Client struct {
	connMu sync.RWMutex
	conn   net.Conn

	addr string

	handshake HandshakeState
	lastSeq   uint32

	nodeID       uint32
	dataCenterID uint32
	clusterName  string
	tieBreaker   wire.TieBreaker
	algorithm    wire.DecisionAlgorithm

	ringID     wire.RingID
	heuristics wire.HeuristicsResult
	lastVote   wire.Vote

	voteInfoSeq        uint32
	pendingVoteInfoAck bool

	configNodes     []wire.NodeInfo
	membershipNodes []wire.NodeInfo

	connected bool

	cluster *Cluster

	send  *netio.SendQueue
	recv  *netio.Assembler
	timer *timerwheel.Timer

	wake chan struct{}
}

var _ algo.Client = (*Client)(nil)

// NewClient wraps an accepted connection in a fresh, pre-handshake Client
// record.
func NewClient(conn net.Conn, maxSendBuffers, maxReceiveSize int) *Client {
	return &Client{
		conn:      conn,
		addr:      conn.RemoteAddr().String(),
		send:      netio.NewSendQueue(maxSendBuffers),
		recv:      netio.NewAssembler(maxReceiveSize, nil),
		connected: true,
		wake:      make(chan struct{}, 1),
	}
}

// Wake returns the channel the writer goroutine blocks on between bursts;
// the reactor goroutine signals it via notifyWriter after enqueueing a
// reply, replacing the source's single poll() wakeup with a per-connection
// channel (Design Notes §9 concurrency model).
func (c *Client) Wake() <-chan struct{} { return c.wake }

func (c *Client) notifyWriter() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) NodeID() uint32                       { return c.nodeID }
func (c *Client) DataCenterID() uint32                 { return c.dataCenterID }
func (c *Client) ClusterName() string                  { return c.clusterName }
func (c *Client) TieBreaker() wire.TieBreaker           { return c.tieBreaker }
func (c *Client) Algorithm() wire.DecisionAlgorithm     { return c.algorithm }
func (c *Client) LastRingID() wire.RingID               { return c.ringID }
func (c *Client) SetLastRingID(r wire.RingID)           { c.ringID = r }
func (c *Client) Heuristics() wire.HeuristicsResult     { return c.heuristics }
func (c *Client) SetHeuristics(h wire.HeuristicsResult) { c.heuristics = h }
func (c *Client) LastSentVote() wire.Vote               { return c.lastVote }
func (c *Client) SetLastSentVote(v wire.Vote)            { c.lastVote = v }
func (c *Client) Connected() bool                        { return c.connected }
func (c *Client) ConfigNodeList() []wire.NodeInfo        { return c.configNodes }
func (c *Client) MembershipNodeList() []wire.NodeInfo    { return c.membershipNodes }
func (c *Client) Addr() string                           { return c.addr }
func (c *Client) Handshake() *HandshakeState             { return &c.handshake }

// Peers returns every other client registered in the same cluster, the Go
// rendition of walking qnetd_cluster's client list minus this entry.
func (c *Client) Peers() []algo.Client {
	if c.cluster == nil {
		return nil
	}
	peers := make([]algo.Client, 0, len(c.cluster.clients)-1)
	for _, other := range c.cluster.clients {
		if other != c {
			peers = append(peers, other)
		}
	}
	return peers
}

// SetConfigNodeList records the configuration node list most recently
// reported by this client.
func (c *Client) SetConfigNodeList(nodes []wire.NodeInfo) { c.configNodes = nodes }

// SetMembershipNodeList records the membership node list most recently
// reported by this client.
func (c *Client) SetMembershipNodeList(nodes []wire.NodeInfo) { c.membershipNodes = nodes }

// NextSeq returns the next expected request sequence number for this
// client's in-flight request, per spec.md §4.3 sequence discipline.
func (c *Client) NextSeq() uint32 {
	c.lastSeq++
	return c.lastSeq
}

// SendQueue exposes the outbound FIFO for the connection's writer
// goroutine.
func (c *Client) SendQueue() *netio.SendQueue { return c.send }

// Assembler exposes the inbound reassembler for the connection's reader
// goroutine.
func (c *Client) Assembler() *netio.Assembler { return c.recv }

// UseKnownMessageFilter rebuilds the assembler with isKnown wired in, so
// unsupported message types are skipped instead of accepted. NewClient
// alone has no way to reference the server's supported-message table.
func (c *Client) UseKnownMessageFilter(isKnown func(wire.MsgType) bool, maxReceiveSize int) {
	c.recv = netio.NewAssembler(maxReceiveSize, isKnown)
}

// Conn exposes the underlying network connection.
func (c *Client) Conn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// SetConn swaps the underlying connection, used by the reader goroutine
// once a STARTTLS upgrade completes: the writer goroutine picks up the
// new conn on its next SendQueue drain via Conn(), guarded by connMu
// instead of requiring the writer to pause.
func (c *Client) SetConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// MarkDisconnected flags the client as no longer connected without
// removing it from its cluster — algorithms still need to see its last
// known ring id and vote while evaluating the remaining partition.
func (c *Client) MarkDisconnected() { c.connected = false }

// Enqueue writes an already-framed message to this client's outbound queue
// and wakes its writer goroutine, the same path Server.enqueue uses for a
// direct reply — shared so an algorithm's unsolicited peer push
// (qnetd/algo.pushVoteInfo) and a handler's own reply travel identically.
func (c *Client) Enqueue(data []byte) {
	if err := c.send.GetNew(data); err != nil {
		return
	}
	c.send.Put(nil)
	c.notifyWriter()
}

// NextVoteInfoSeq assigns and returns the sequence number for the next
// unsolicited VoteInfo push to this client, mirroring
// qnetd-algo-ffsplit.c's per-client vote_info_expected_seq_num counter.
func (c *Client) NextVoteInfoSeq() uint32 {
	c.voteInfoSeq++
	return c.voteInfoSeq
}

// VoteInfoSeq reports the sequence number last assigned by NextVoteInfoSeq.
func (c *Client) VoteInfoSeq() uint32 { return c.voteInfoSeq }

// PendingVoteInfoAck reports whether a NACK pushed via VoteInfo is still
// awaiting this client's VoteInfoReply.
func (c *Client) PendingVoteInfoAck() bool     { return c.pendingVoteInfoAck }
func (c *Client) SetPendingVoteInfoAck(v bool) { c.pendingVoteInfoAck = v }
