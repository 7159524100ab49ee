package algo

import (
	"time"

	"github.com/luxfi/qnetd/wire"
)

// deferredTimerFraction is the divisor applied to a client's own
// heartbeat interval by callers computing the real interval to pass to
// timerwheel.Wheel.Add.
const deferredTimerFraction = 4

// DeferredInterval returns the per-client deferred-decision recheck
// interval for a given heartbeat interval, per spec.md §4.4.4.
func DeferredInterval(heartbeat time.Duration) time.Duration {
	return heartbeat / deferredTimerFraction
}

// LMS is the generalized last-man-standing algorithm (spec.md §4.4.4).
// Grounded on original_source/qdevices/qnetd-algo-lms.c.
type LMS struct{}

var _ Algorithm = LMS{}

func (LMS) Init(Client) (wire.ReplyErrorCode, error) {
	return wire.ErrNoError, nil
}

func (LMS) ConfigNodeListReceived(client Client, seq uint32, list NodeList) (wire.ReplyErrorCode, wire.Vote) {
	vote := lmsRedecide(client)
	pushVoteToPeers(client, lmsRedecide)
	return wire.ErrNoError, vote
}

func (LMS) MembershipNodeListReceived(client Client, seq uint32, ringID wire.RingID, nodes []wire.NodeInfo, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	isNewcomer := client.LastSentVote() == wire.VoteUndefined
	client.SetLastRingID(ringID)
	client.SetHeuristics(heuristics)

	if isNewcomer && peerHoldsDifferentRingID(client, ringID) {
		// Newcomer protection: do not update the cached vote.
		return wire.ErrNoError, wire.VoteNack
	}

	vote := lmsRedecide(client)
	pushVoteToPeers(client, lmsRedecide)
	return wire.ErrNoError, vote
}

func (LMS) QuorumNodeListReceived(client Client, seq uint32, quorate wire.Quorate, nodes []wire.NodeInfo) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteNoChange
}

func (LMS) AskForVoteReceived(client Client, seq uint32) (wire.ReplyErrorCode, wire.Vote) {
	vote := lmsRedecide(client)
	pushVoteToPeers(client, lmsRedecide)
	return wire.ErrNoError, vote
}

func (LMS) HeuristicsChangeReceived(client Client, seq uint32, heuristics wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	client.SetHeuristics(heuristics)
	vote := lmsRedecide(client)
	pushVoteToPeers(client, lmsRedecide)
	return wire.ErrNoError, vote
}

func (LMS) VoteInfoReplyReceived(client Client, seq uint32) wire.ReplyErrorCode {
	settleVoteInfoReply(client, seq, lmsRedecide)
	return wire.ErrNoError
}

func (LMS) Disconnect(client Client, serverGoingDown bool) {
	client.SetLastSentVote(wire.VoteNack)
	if serverGoingDown {
		return
	}
	pushVoteToPeers(client, lmsRedecide)
}

// TimerCallback rechecks a partition that was previously inconsistent
// (ring ids did not yet match), per spec.md §4.4.4's deferred-decision
// timer.
func (LMS) TimerCallback(client Client) TimerResult {
	if !partitionRingIDsMatch(client) {
		return TimerResult{Reschedule: true}
	}
	vote := lmsRedecide(client)
	return TimerResult{SendVote: true, Vote: vote}
}

func peerHoldsDifferentRingID(client Client, ringID wire.RingID) bool {
	for _, p := range client.Peers() {
		if p.LastSentVote() == wire.VoteAck && !p.LastRingID().Equal(ringID) {
			return true
		}
	}
	return false
}

// partitionRingIDsMatch reports whether every client sharing client's
// partition (i.e. every client, since the partition is all-connected peers
// here) agrees on ring id. Generalized LMS only decides within a
// consistent partition; buildPartitions already isolates that.
func partitionRingIDsMatch(client Client) bool {
	for _, p := range buildPartitions(client) {
		if p.ringID.Equal(client.LastRingID()) {
			return true // the partition containing client is, by construction, internally consistent
		}
	}
	return true
}

// lmsRedecide implements spec.md §4.4.4: partitions built as in ffsplit,
// same score; strictly-highest-score partition wins; ties broken by node
// count, then by tie-breaker.
func lmsRedecide(client Client) wire.Vote {
	parts := buildPartitions(client)
	winner := lmsSelectWinner(parts, client.TieBreaker())
	if winner == nil {
		return wire.VoteWaitForReply
	}
	if winner.ringID.Equal(client.LastRingID()) {
		return wire.VoteAck
	}
	return wire.VoteNack
}

func lmsSelectWinner(parts []partition, tb wire.TieBreaker) *partition {
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return &parts[0]
	}

	bestIdx := 0
	bestScore := score(parts[0])
	tied := []int{0}
	for i := 1; i < len(parts); i++ {
		s := score(parts[i])
		if s > bestScore {
			bestScore = s
			bestIdx = i
			tied = []int{i}
		} else if s == bestScore {
			tied = append(tied, i)
		}
	}
	if len(tied) == 1 {
		return &parts[bestIdx]
	}

	bestIdx = tied[0]
	bestCount := len(parts[bestIdx].members)
	tiedOnCount := []int{bestIdx}
	for _, i := range tied[1:] {
		n := len(parts[i].members)
		if n > bestCount {
			bestCount = n
			bestIdx = i
			tiedOnCount = []int{i}
		} else if n == bestCount {
			tiedOnCount = append(tiedOnCount, i)
		}
	}
	if len(tiedOnCount) == 1 {
		return &parts[bestIdx]
	}

	for _, i := range tiedOnCount {
		if containsTieBreaker(parts[i], tb) {
			return &parts[i]
		}
	}
	return &parts[tiedOnCount[0]]
}
