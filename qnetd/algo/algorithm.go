// Package algo implements the four pluggable server-side decision
// algorithms described in spec.md §4.4, plus the shared capability-set
// contract they all satisfy.
//
// Grounded on original_source/qdevices/qnetd-algorithm.h's
// struct qnetd_algorithm vtable: the Go Algorithm interface preserves the
// same callback surface (Design Notes §9 "algorithm capability set"),
// one method per vtable function pointer.
package algo

import "github.com/luxfi/qnetd/wire"

// Client is the subset of server-side client state an algorithm needs to
// read or mutate to reach a decision. qnetd.Client implements it; tests use
// a minimal fake.
type Client interface {
	NodeID() uint32
	DataCenterID() uint32
	ClusterName() string
	TieBreaker() wire.TieBreaker
	LastRingID() wire.RingID
	SetLastRingID(wire.RingID)
	Heuristics() wire.HeuristicsResult
	SetHeuristics(wire.HeuristicsResult)
	LastSentVote() wire.Vote
	SetLastSentVote(wire.Vote)
	Connected() bool
	ConfigNodeList() []wire.NodeInfo
	MembershipNodeList() []wire.NodeInfo

	// Peers returns every other client currently registered in the same
	// cluster, the Go rendition of walking qnetd_cluster's client list.
	Peers() []Client

	// Enqueue writes an already-framed message to this client's outbound
	// queue, used to push an unsolicited VoteInfo to a client other than
	// the one whose message triggered the redecide.
	Enqueue(data []byte)

	// NextVoteInfoSeq assigns and returns the sequence number for the next
	// unsolicited VoteInfo push to this client, the Go rendition of
	// qnetd-algo-ffsplit.c's per-client vote_info_expected_seq_num counter
	// used to correlate the client's VoteInfoReply.
	NextVoteInfoSeq() uint32

	// VoteInfoSeq reports the sequence number last assigned by
	// NextVoteInfoSeq, for validating an incoming VoteInfoReply isn't
	// stale.
	VoteInfoSeq() uint32

	// PendingVoteInfoAck reports whether a NACK pushed via VoteInfo is
	// still awaiting this client's VoteInfoReply.
	PendingVoteInfoAck() bool
	SetPendingVoteInfoAck(bool)
}

// NodeList bundles a node-list delivery with its associated list-kind and
// membership metadata, matching the four node-list message variants in
// spec.md §6 option type NodeListType.
type NodeList struct {
	Nodes            []wire.NodeInfo
	ConfigVersionSet bool
	ConfigVersion    uint64
	Initial          bool
}

// TimerResult is the three-way outcome of a deferred-decision timer
// callback (original: int *reschedule_timer, int *send_vote,
// enum tlv_vote *result_vote).
type TimerResult struct {
	Reschedule bool
	SendVote   bool
	Vote       wire.Vote
}

// Algorithm is the per-server decision strategy capability set, one
// implementation per spec.md §4.4.1–§4.4.4. Every callback corresponds
// 1:1 to a qnetd_algorithm vtable slot.
type Algorithm interface {
	// Init sets up any per-client scratch and validates cluster-config
	// prerequisites (e.g. 2nodelms needs exactly two configured nodes).
	Init(client Client) (wire.ReplyErrorCode, error)

	ConfigNodeListReceived(client Client, seq uint32, list NodeList) (wire.ReplyErrorCode, wire.Vote)

	MembershipNodeListReceived(client Client, seq uint32, ringID wire.RingID, nodes []wire.NodeInfo, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote)

	QuorumNodeListReceived(client Client, seq uint32, quorate wire.Quorate, nodes []wire.NodeInfo) (wire.ReplyErrorCode, wire.Vote)

	AskForVoteReceived(client Client, seq uint32) (wire.ReplyErrorCode, wire.Vote)

	HeuristicsChangeReceived(client Client, seq uint32, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote)

	// VoteInfoReplyReceived acknowledges a NACK/ACK notification; it never
	// produces a vote, only bookkeeping.
	VoteInfoReplyReceived(client Client, seq uint32) wire.ReplyErrorCode

	Disconnect(client Client, serverGoingDown bool)

	// TimerCallback runs a per-client deferred-decision timer an
	// algorithm armed itself (e.g. lms's ring-id-mismatch recheck).
	TimerCallback(client Client) TimerResult
}

// partition groups clients that currently agree on a ring id — the unit
// ffsplit and lms both reason about when picking a winner.
type partition struct {
	ringID  wire.RingID
	members []Client
}

// score implements spec.md §4.4.2's scoring formula, shared by ffsplit and
// lms: active_client_count + (pass_heuristics - fail_heuristics).
func score(p partition) int {
	active := 0
	passMinusFail := 0
	for _, c := range p.members {
		if !c.Connected() {
			continue
		}
		active++
		switch c.Heuristics() {
		case wire.HeuristicsPass:
			passMinusFail++
		case wire.HeuristicsFail:
			passMinusFail--
		}
	}
	return active + passMinusFail
}

// activeCount counts connected members of a partition.
func activeCount(p partition) int {
	n := 0
	for _, c := range p.members {
		if c.Connected() {
			n++
		}
	}
	return n
}

// buildPartitions groups client (plus its peers) by LastRingID.
func buildPartitions(client Client) []partition {
	all := append([]Client{client}, client.Peers()...)
	var parts []partition
	for _, c := range all {
		found := false
		for i := range parts {
			if parts[i].ringID.Equal(c.LastRingID()) {
				parts[i].members = append(parts[i].members, c)
				found = true
				break
			}
		}
		if !found {
			parts = append(parts, partition{ringID: c.LastRingID(), members: []Client{c}})
		}
	}
	return parts
}

// containsTieBreaker reports whether the tie-breaker node (per mode) is one
// of this partition's member clients, per spec.md §4.4.2 rule 5. For
// Lowest/Highest the tie-breaker node is the lowest/highest node id in the
// cluster's configuration node list.
func containsTieBreaker(p partition, tb wire.TieBreaker) bool {
	if len(p.members) == 0 {
		return false
	}
	switch tb.Mode {
	case wire.TieBreakerLowest, wire.TieBreakerHighest:
		cfg := p.members[0].ConfigNodeList()
		if len(cfg) == 0 {
			return false
		}
		pick := cfg[0].NodeID
		for _, n := range cfg[1:] {
			if (tb.Mode == wire.TieBreakerLowest && n.NodeID < pick) || (tb.Mode == wire.TieBreakerHighest && n.NodeID > pick) {
				pick = n.NodeID
			}
		}
		return nodeHeldBy(p, pick)
	case wire.TieBreakerNodeID:
		return nodeHeldBy(p, tb.NodeID)
	default:
		return false
	}
}

// nodeHeldBy reports whether nodeID is the node id of one of this
// partition's member clients.
func nodeHeldBy(p partition, nodeID uint32) bool {
	for _, c := range p.members {
		if c.NodeID() == nodeID {
			return true
		}
	}
	return false
}

func lowestNodeID(p partition) uint32 {
	lowest := p.members[0].NodeID()
	for _, c := range p.members[1:] {
		if c.NodeID() < lowest {
			lowest = c.NodeID()
		}
	}
	return lowest
}

func highestNodeID(p partition) uint32 {
	highest := p.members[0].NodeID()
	for _, c := range p.members[1:] {
		if c.NodeID() > highest {
			highest = c.NodeID()
		}
	}
	return highest
}

// pushVoteToPeers recomputes every one of client's connected peers' votes
// via redecide and pushes the ones that changed as unsolicited VoteInfo
// messages, in two passes: every NACK goes out before any ACK, and the ACK
// pass is skipped entirely while any client in the cluster (this one
// included) still has a NACK awaiting its VoteInfoReply — matching
// spec.md §4.4.2's "NACKs precede ACKs" ordering guarantee. Grounded on
// qnetd-algo-ffsplit.c's qnetd_algo_ffsplit_send_votes two-phase send.
func pushVoteToPeers(client Client, redecide func(Client) wire.Vote) {
	peers := client.Peers()

	type decision struct {
		c    Client
		vote wire.Vote
	}
	var changed []decision
	for _, peer := range peers {
		if !peer.Connected() {
			continue
		}
		v := redecide(peer)
		if v != wire.VoteAck && v != wire.VoteNack {
			continue
		}
		if v == peer.LastSentVote() {
			continue
		}
		changed = append(changed, decision{peer, v})
	}

	for _, d := range changed {
		if d.vote == wire.VoteNack {
			pushVoteInfo(d.c, d.vote)
		}
	}

	if pendingVoteInfoAckAnywhere(client, peers) {
		return
	}

	for _, d := range changed {
		if d.vote == wire.VoteAck {
			pushVoteInfo(d.c, d.vote)
		}
	}
}

// pushVoteInfo sends an unsolicited VoteInfo to c, records it as the
// client's current vote, and (for a NACK) marks the client as awaiting its
// VoteInfoReply before any ACK may follow it.
func pushVoteInfo(c Client, vote wire.Vote) {
	seq := c.NextVoteInfoSeq()
	if vote == wire.VoteNack {
		c.SetPendingVoteInfoAck(true)
	}
	c.SetLastSentVote(vote)
	c.Enqueue(wire.EncodeVoteInfo(seq, vote, c.LastRingID()))
}

// pendingVoteInfoAckAnywhere reports whether client or any of its peers is
// still awaiting a VoteInfoReply for a previously pushed NACK.
func pendingVoteInfoAckAnywhere(client Client, peers []Client) bool {
	if client.PendingVoteInfoAck() {
		return true
	}
	for _, p := range peers {
		if p.PendingVoteInfoAck() {
			return true
		}
	}
	return false
}

// settleVoteInfoReply clears client's pending-ack flag if seq matches the
// last one assigned to it, then — if nothing in the cluster is still
// awaiting a NACK ack — pushes any now-due ACKs that were held back by
// pushVoteToPeers. Shared by ffsplit and twonodelms's
// VoteInfoReplyReceived, the Go rendition of
// qnetd_algo_ffsplit_vote_info_reply_received's NACK-drained-to-ACK
// transition.
func settleVoteInfoReply(client Client, seq uint32, redecide func(Client) wire.Vote) {
	if client.VoteInfoSeq() != seq {
		return
	}
	client.SetPendingVoteInfoAck(false)

	peers := client.Peers()
	if pendingVoteInfoAckAnywhere(client, peers) {
		return
	}
	all := append([]Client{client}, peers...)
	for _, c := range all {
		if !c.Connected() {
			continue
		}
		v := redecide(c)
		if v == wire.VoteAck && c.LastSentVote() != wire.VoteAck {
			pushVoteInfo(c, v)
		}
	}
}
