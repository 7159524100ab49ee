package algo

import "github.com/luxfi/qnetd/wire"

// FFSplit is the fifty-fifty split resolver (spec.md §4.4.2), the common
// default algorithm. Grounded on
// original_source/qdevices/qnetd-algo-ffsplit.c's stability check +
// partition-scoring flow.
type FFSplit struct{}

var _ Algorithm = FFSplit{}

func (FFSplit) Init(Client) (wire.ReplyErrorCode, error) {
	return wire.ErrNoError, nil
}

func (FFSplit) ConfigNodeListReceived(client Client, seq uint32, list NodeList) (wire.ReplyErrorCode, wire.Vote) {
	vote := ffsplitRedecide(client)
	pushVoteToPeers(client, ffsplitRedecide)
	return wire.ErrNoError, vote
}

func (FFSplit) MembershipNodeListReceived(client Client, seq uint32, ringID wire.RingID, nodes []wire.NodeInfo, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	client.SetLastRingID(ringID)
	client.SetHeuristics(heuristics)
	vote := ffsplitRedecide(client)
	pushVoteToPeers(client, ffsplitRedecide)
	return wire.ErrNoError, vote
}

func (FFSplit) QuorumNodeListReceived(client Client, seq uint32, quorate wire.Quorate, nodes []wire.NodeInfo) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteNoChange
}

func (FFSplit) AskForVoteReceived(Client, uint32) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrUnsupportedDecisionAlgorithmMessage, wire.VoteUndefined
}

func (FFSplit) HeuristicsChangeReceived(client Client, seq uint32, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	client.SetHeuristics(heuristics)
	vote := ffsplitRedecide(client)
	pushVoteToPeers(client, ffsplitRedecide)
	return wire.ErrNoError, vote
}

// VoteInfoReplyReceived drains a pending NACK ack and, once every client in
// the cluster has caught up, pushes any ACKs that were held back by
// pushVoteToPeers (spec.md §4.4.2's NACK-before-ACK ordering).
func (FFSplit) VoteInfoReplyReceived(client Client, seq uint32) wire.ReplyErrorCode {
	settleVoteInfoReply(client, seq, ffsplitRedecide)
	return wire.ErrNoError
}

// Disconnect flips the disconnecting client's own cached vote to Nack —
// never honor a stale Ack on a dropped link (spec.md §4.4.2 final
// paragraph) — then pushes the remaining cluster's redecided votes.
func (FFSplit) Disconnect(client Client, serverGoingDown bool) {
	client.SetLastSentVote(wire.VoteNack)
	if serverGoingDown {
		return
	}
	pushVoteToPeers(client, ffsplitRedecide)
}

func (FFSplit) TimerCallback(Client) TimerResult {
	return TimerResult{}
}

// ffsplitRedecide runs the stability check and, if stable, the partition
// scoring/selection rules, returning the vote for client specifically.
// Called from every event that spec.md §4.4.2 says can change the
// outcome.
func ffsplitRedecide(client Client) wire.Vote {
	if !ffsplitStable(client) {
		return wire.VoteWaitForReply
	}

	parts := buildPartitions(client)
	winner := ffsplitSelectWinner(parts, client.TieBreaker())
	if winner == nil {
		return wire.VoteWaitForReply
	}
	if winner.ringID.Equal(client.LastRingID()) {
		return wire.VoteAck
	}
	return wire.VoteNack
}

// ffsplitStable implements spec.md §4.4.2's stability check: every
// connected client in the cluster must agree on the configuration node
// list, and within each partition all members must report identical ring
// ids and membership node lists (the latter already holds by construction,
// since buildPartitions groups by ring id — so this only needs to compare
// config node lists across partitions).
func ffsplitStable(client Client) bool {
	all := append([]Client{client}, client.Peers()...)
	if len(all) == 0 {
		return true
	}
	reference := all[0].ConfigNodeList()
	for _, c := range all[1:] {
		if !sameNodeList(reference, c.ConfigNodeList()) {
			return false
		}
	}
	return true
}

func sameNodeList(a, b []wire.NodeInfo) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint32]bool, len(a))
	for _, n := range a {
		seen[n.NodeID] = true
	}
	for _, n := range b {
		if !seen[n.NodeID] {
			return false
		}
	}
	return true
}

// ffsplitSelectWinner applies spec.md §4.4.2's strictly-ordered partition
// selection rules 1–5.
func ffsplitSelectWinner(parts []partition, tb wire.TieBreaker) *partition {
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return &parts[0]
	}

	configSize := configNodeListSize(parts)
	half := configSize / 2

	// Rules 1/2: strict majority (> half) wins outright, regardless of
	// parity; an odd total additionally guarantees at most one partition
	// can ever reach > half.
	for i := range parts {
		if partitionConfigMembership(parts[i]) > half {
			return &parts[i]
		}
	}

	// Rule 3: highest score.
	bestIdx := 0
	bestScore := score(parts[0])
	tiedOnScore := []int{0}
	for i := 1; i < len(parts); i++ {
		s := score(parts[i])
		if s > bestScore {
			bestScore = s
			bestIdx = i
			tiedOnScore = []int{i}
		} else if s == bestScore {
			tiedOnScore = append(tiedOnScore, i)
		}
	}
	if len(tiedOnScore) == 1 {
		return &parts[bestIdx]
	}

	// Rule 4: more active clients among the score-tied partitions.
	bestIdx = tiedOnScore[0]
	bestActive := activeCount(parts[bestIdx])
	tiedOnActive := []int{bestIdx}
	for _, i := range tiedOnScore[1:] {
		a := activeCount(parts[i])
		if a > bestActive {
			bestActive = a
			bestIdx = i
			tiedOnActive = []int{i}
		} else if a == bestActive {
			tiedOnActive = append(tiedOnActive, i)
		}
	}
	if len(tiedOnActive) == 1 {
		return &parts[bestIdx]
	}

	// Rule 5: partition containing the tie-breaker node.
	for _, i := range tiedOnActive {
		if containsTieBreaker(parts[i], tb) {
			return &parts[i]
		}
	}
	return &parts[tiedOnActive[0]]
}

// configNodeListSize reports the configured cluster size, read off any
// partition member (config node list is cluster-wide and, by the time this
// runs, has passed the stability check).
func configNodeListSize(parts []partition) int {
	for _, p := range parts {
		for _, c := range p.members {
			if n := len(c.ConfigNodeList()); n > 0 {
				return n
			}
		}
	}
	return 0
}

// partitionConfigMembership counts how many of the cluster's configured
// nodes this partition's membership node list covers.
func partitionConfigMembership(p partition) int {
	if len(p.members) == 0 {
		return 0
	}
	return len(p.members[0].MembershipNodeList())
}
