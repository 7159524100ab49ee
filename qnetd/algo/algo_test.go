package algo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/qnetd/wire"
)

// fakeClient is a minimal in-memory Client used to drive algorithm tests
// without the full qnetd.Client/Cluster machinery.
type fakeClient struct {
	nodeID       uint32
	dataCenterID uint32
	cluster      string
	tieBreaker   wire.TieBreaker
	ringID       wire.RingID
	heuristics   wire.HeuristicsResult
	lastVote     wire.Vote
	connected    bool
	configNodes  []wire.NodeInfo
	memberNodes  []wire.NodeInfo
	peers        []Client

	voteInfoSeq        uint32
	pendingVoteInfoAck bool
	enqueued           [][]byte
}

func (c *fakeClient) NodeID() uint32                       { return c.nodeID }
func (c *fakeClient) DataCenterID() uint32                 { return c.dataCenterID }
func (c *fakeClient) ClusterName() string                  { return c.cluster }
func (c *fakeClient) TieBreaker() wire.TieBreaker           { return c.tieBreaker }
func (c *fakeClient) LastRingID() wire.RingID               { return c.ringID }
func (c *fakeClient) SetLastRingID(r wire.RingID)           { c.ringID = r }
func (c *fakeClient) Heuristics() wire.HeuristicsResult     { return c.heuristics }
func (c *fakeClient) SetHeuristics(h wire.HeuristicsResult) { c.heuristics = h }
func (c *fakeClient) LastSentVote() wire.Vote               { return c.lastVote }
func (c *fakeClient) SetLastSentVote(v wire.Vote)            { c.lastVote = v }
func (c *fakeClient) Connected() bool                        { return c.connected }
func (c *fakeClient) ConfigNodeList() []wire.NodeInfo        { return c.configNodes }
func (c *fakeClient) MembershipNodeList() []wire.NodeInfo    { return c.memberNodes }
func (c *fakeClient) Peers() []Client                        { return c.peers }

func (c *fakeClient) Enqueue(data []byte) { c.enqueued = append(c.enqueued, data) }
func (c *fakeClient) NextVoteInfoSeq() uint32 {
	c.voteInfoSeq++
	return c.voteInfoSeq
}
func (c *fakeClient) VoteInfoSeq() uint32            { return c.voteInfoSeq }
func (c *fakeClient) PendingVoteInfoAck() bool       { return c.pendingVoteInfoAck }
func (c *fakeClient) SetPendingVoteInfoAck(v bool)   { c.pendingVoteInfoAck = v }

func linkPeers(clients ...*fakeClient) {
	for i, c := range clients {
		var peers []Client
		for j, other := range clients {
			if i != j {
				peers = append(peers, other)
			}
		}
		c.peers = peers
	}
}

func threeNodeConfig() []wire.NodeInfo {
	return []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}, {NodeID: 3}}
}

func TestFFSplitUnstableWhenConfigListsDisagree(t *testing.T) {
	a := &fakeClient{nodeID: 1, connected: true, configNodes: threeNodeConfig()}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}}
	linkPeers(a, b)

	ff := FFSplit{}
	_, vote := ff.MembershipNodeListReceived(a, 1, wire.RingID{NodeID: 1, Seq: 1}, threeNodeConfig(), wire.HeuristicsUndefined)
	require.Equal(t, wire.VoteWaitForReply, vote)
}

func TestFFSplitMajorityPartitionWinsAndOthersNack(t *testing.T) {
	cfg := threeNodeConfig()
	winRing := wire.RingID{NodeID: 1, Seq: 2}
	loseRing := wire.RingID{NodeID: 3, Seq: 1}

	a := &fakeClient{nodeID: 1, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}, ringID: winRing}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}, ringID: winRing}
	c := &fakeClient{nodeID: 3, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 3}}, ringID: loseRing}
	linkPeers(a, b, c)

	ff := FFSplit{}
	_, voteA := ff.MembershipNodeListReceived(a, 1, winRing, a.memberNodes, wire.HeuristicsUndefined)
	_, voteC := ff.MembershipNodeListReceived(c, 1, loseRing, c.memberNodes, wire.HeuristicsUndefined)

	require.Equal(t, wire.VoteAck, voteA)
	require.Equal(t, wire.VoteNack, voteC)
}

// TestFFSplitPeerPushSendsNacksBeforeAcks exercises the three-node
// majority/minority split (A, B vs C): the last node to report membership
// tips the cluster stable, and the other two peers must have their votes
// pushed via unsolicited VoteInfo — the minority's NACK going out before
// the majority peer's ACK, with the ACK withheld entirely until the NACK
// is acknowledged.
func TestFFSplitPeerPushSendsNacksBeforeAcks(t *testing.T) {
	cfg := threeNodeConfig()
	winRing := wire.RingID{NodeID: 1, Seq: 2}
	loseRing := wire.RingID{NodeID: 3, Seq: 1}

	a := &fakeClient{nodeID: 1, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}, ringID: winRing}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}, ringID: winRing}
	c := &fakeClient{nodeID: 3, connected: true, configNodes: cfg, memberNodes: []wire.NodeInfo{{NodeID: 3}}, ringID: loseRing}
	linkPeers(a, b, c)

	ff := FFSplit{}
	// b is the last of the three to report; its own reply carries the vote
	// directly, but a and c only ever learn theirs through a peer push.
	_, voteB := ff.MembershipNodeListReceived(b, 1, winRing, b.memberNodes, wire.HeuristicsUndefined)
	require.Equal(t, wire.VoteAck, voteB)

	require.Len(t, c.enqueued, 1, "minority peer's NACK must be pushed immediately")
	require.Empty(t, a.enqueued, "majority peer's ACK must be withheld until the NACK is acknowledged")
	require.True(t, c.PendingVoteInfoAck())

	ff.VoteInfoReplyReceived(c, c.VoteInfoSeq())

	require.Len(t, a.enqueued, 1, "ACK releases once the outstanding NACK is acknowledged")
	require.Equal(t, wire.VoteAck, a.LastSentVote())
	require.False(t, c.PendingVoteInfoAck())
}

func TestFFSplitDisconnectFlipsOwnVoteToNack(t *testing.T) {
	a := &fakeClient{nodeID: 1, connected: true, lastVote: wire.VoteAck}
	ff := FFSplit{}
	ff.Disconnect(a, false)
	require.Equal(t, wire.VoteNack, a.LastSentVote())
}

func TestTwoNodeLMSRejectsNonTwoNodeConfig(t *testing.T) {
	a := &fakeClient{nodeID: 1, configNodes: threeNodeConfig()}
	code, _ := TwoNodeLMS{}.Init(a)
	require.Equal(t, wire.ErrUnsupportedDecisionAlgorithm, code)
}

func TestTwoNodeLMSBothConnectedBothAck(t *testing.T) {
	cfg := []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}
	a := &fakeClient{nodeID: 1, connected: true, configNodes: cfg, heuristics: wire.HeuristicsUndefined}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, heuristics: wire.HeuristicsUndefined}
	linkPeers(a, b)

	vote := twoNodeRedecide(a)
	require.Equal(t, wire.VoteAck, vote)
}

func TestTwoNodeLMSHeuristicsOverridesTieBreaker(t *testing.T) {
	cfg := []wire.NodeInfo{{NodeID: 1}, {NodeID: 2}}
	a := &fakeClient{nodeID: 1, connected: true, configNodes: cfg, heuristics: wire.HeuristicsFail, tieBreaker: wire.TieBreaker{Mode: wire.TieBreakerLowest}}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, heuristics: wire.HeuristicsPass, tieBreaker: wire.TieBreaker{Mode: wire.TieBreakerLowest}}
	linkPeers(a, b)

	vote := twoNodeRedecide(a)
	require.Equal(t, wire.VoteNack, vote)
}

func TestLMSNewcomerProtection(t *testing.T) {
	cfg := threeNodeConfig()
	heldRing := wire.RingID{NodeID: 2, Seq: 1}
	held := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, ringID: heldRing, lastVote: wire.VoteAck}
	newcomer := &fakeClient{nodeID: 3, connected: true, configNodes: cfg, lastVote: wire.VoteUndefined}
	linkPeers(held, newcomer)

	_, vote := LMS{}.MembershipNodeListReceived(newcomer, 1, wire.RingID{NodeID: 3, Seq: 1}, cfg, wire.HeuristicsUndefined)
	require.Equal(t, wire.VoteNack, vote)
	require.Equal(t, wire.VoteUndefined, newcomer.LastSentVote(), "newcomer protection must not update the cached vote")
}

func TestLMSHighestScorePartitionWins(t *testing.T) {
	cfg := threeNodeConfig()
	bigRing := wire.RingID{NodeID: 1, Seq: 5}
	smallRing := wire.RingID{NodeID: 3, Seq: 1}

	a := &fakeClient{nodeID: 1, connected: true, configNodes: cfg, ringID: bigRing, heuristics: wire.HeuristicsPass}
	b := &fakeClient{nodeID: 2, connected: true, configNodes: cfg, ringID: bigRing, heuristics: wire.HeuristicsUndefined}
	c := &fakeClient{nodeID: 3, connected: true, configNodes: cfg, ringID: smallRing, heuristics: wire.HeuristicsFail}
	linkPeers(a, b, c)

	require.Equal(t, wire.VoteAck, lmsRedecide(a))
	require.Equal(t, wire.VoteNack, lmsRedecide(c))
}

func TestTestAlgorithmAlwaysAcksMembership(t *testing.T) {
	a := &fakeClient{nodeID: 1}
	_, vote := Test{}.MembershipNodeListReceived(a, 1, wire.RingID{}, nil, wire.HeuristicsUndefined)
	require.Equal(t, wire.VoteAck, vote)
}

func TestTestAlgorithmDisconnectForcesNack(t *testing.T) {
	a := &fakeClient{nodeID: 1, lastVote: wire.VoteAck}
	Test{}.Disconnect(a, false)
	require.Equal(t, wire.VoteNack, a.LastSentVote())
}
