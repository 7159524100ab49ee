package algo

import "github.com/luxfi/qnetd/wire"

// TwoNodeLMS implements spec.md §4.4.3: applies only to a two-configured-
// node cluster. Grounded on
// original_source/qdevices/qnetd-algo-2nodelms.c.
type TwoNodeLMS struct{}

var _ Algorithm = TwoNodeLMS{}

func (TwoNodeLMS) Init(client Client) (wire.ReplyErrorCode, error) {
	if len(client.ConfigNodeList()) != 2 {
		return wire.ErrUnsupportedDecisionAlgorithm, nil
	}
	return wire.ErrNoError, nil
}

func (TwoNodeLMS) ConfigNodeListReceived(client Client, seq uint32, list NodeList) (wire.ReplyErrorCode, wire.Vote) {
	if len(list.Nodes) != 2 {
		return wire.ErrUnsupportedDecisionAlgorithm, wire.VoteUndefined
	}
	vote := twoNodeRedecide(client)
	pushVoteToPeers(client, twoNodeRedecide)
	return wire.ErrNoError, vote
}

func (TwoNodeLMS) MembershipNodeListReceived(client Client, seq uint32, ringID wire.RingID, nodes []wire.NodeInfo, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	client.SetLastRingID(ringID)
	client.SetHeuristics(heuristics)
	vote := twoNodeRedecide(client)
	pushVoteToPeers(client, twoNodeRedecide)
	return wire.ErrNoError, vote
}

func (TwoNodeLMS) QuorumNodeListReceived(client Client, seq uint32, quorate wire.Quorate, nodes []wire.NodeInfo) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteNoChange
}

func (TwoNodeLMS) AskForVoteReceived(client Client, seq uint32) (wire.ReplyErrorCode, wire.Vote) {
	vote := twoNodeRedecide(client)
	pushVoteToPeers(client, twoNodeRedecide)
	return wire.ErrNoError, vote
}

func (TwoNodeLMS) HeuristicsChangeReceived(client Client, seq uint32, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	client.SetHeuristics(heuristics)
	vote := twoNodeRedecide(client)
	pushVoteToPeers(client, twoNodeRedecide)
	return wire.ErrNoError, vote
}

func (TwoNodeLMS) VoteInfoReplyReceived(client Client, seq uint32) wire.ReplyErrorCode {
	settleVoteInfoReply(client, seq, twoNodeRedecide)
	return wire.ErrNoError
}

func (TwoNodeLMS) Disconnect(client Client, serverGoingDown bool) {
	client.SetLastSentVote(wire.VoteNack)
	if serverGoingDown {
		return
	}
	pushVoteToPeers(client, twoNodeRedecide)
}

func (TwoNodeLMS) TimerCallback(Client) TimerResult {
	return TimerResult{}
}

// twoNodeRedecide implements spec.md §4.4.3's decision table for a client
// and, by symmetry, is also how its peer's vote gets recomputed on the
// events above.
func twoNodeRedecide(client Client) wire.Vote {
	peers := client.Peers()

	var other Client
	for _, p := range peers {
		other = p
		break
	}

	if other != nil && other.Connected() {
		// Both connected: the local cluster runtime arbitrates, both
		// get Ack unless heuristics strongly disagree.
		if client.Heuristics() == wire.HeuristicsFail && other.Heuristics() == wire.HeuristicsPass {
			return wire.VoteNack
		}
		return wire.VoteAck
	}

	// Only this client connected. If the other partition (the
	// disconnected peer, from its own last-known vote) is not currently
	// voting Ack elsewhere, the survivor wins.
	if other == nil || other.LastSentVote() != wire.VoteAck {
		// A newcomer (never previously granted a vote) joining while
		// another active partition exists must not steal quorum.
		if client.LastSentVote() == wire.VoteUndefined && otherPartitionActive(other) {
			return wire.VoteNack
		}

		if client.Heuristics() == wire.HeuristicsPass {
			return wire.VoteAck
		}
		if client.Heuristics() == wire.HeuristicsFail {
			return wire.VoteNack
		}
		// Heuristics tied/undefined: each sees only itself, tie-breaker
		// decides.
		if tieBreakerPicksSelf(client) {
			return wire.VoteAck
		}
		return wire.VoteNack
	}

	return wire.VoteNack
}

func otherPartitionActive(other Client) bool {
	return other != nil && other.LastSentVote() == wire.VoteAck
}

// tieBreakerPicksSelf reports whether client is the node designated by its
// own tie-breaker rule, compared against the other configured node id (the
// peer may be disconnected, but its id is still known from the static
// two-node config list).
func tieBreakerPicksSelf(client Client) bool {
	tb := client.TieBreaker()
	if tb.Mode == wire.TieBreakerNodeID {
		return client.NodeID() == tb.NodeID
	}

	otherID, ok := peerConfiguredNodeID(client)
	if !ok {
		return true
	}
	switch tb.Mode {
	case wire.TieBreakerLowest:
		return client.NodeID() < otherID
	case wire.TieBreakerHighest:
		return client.NodeID() > otherID
	default:
		return false
	}
}

// peerConfiguredNodeID returns the other node id in a two-node configured
// cluster.
func peerConfiguredNodeID(client Client) (uint32, bool) {
	for _, n := range client.ConfigNodeList() {
		if n.NodeID != client.NodeID() {
			return n.NodeID, true
		}
	}
	return 0, false
}
