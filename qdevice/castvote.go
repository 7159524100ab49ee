// Package qdevice implements the arbiter client: the connection state
// machine mirroring qnetd's handshake, the cast-vote timer, and the echo/
// dead-peer-detection timer described in spec.md §4.3.
//
// Grounded on original_source/qdevices/qdevice-net-instance.c/.h,
// qdevice-net-cast-vote-timer.c, and qdevice-net-echo-request-timer.c.
package qdevice

import (
	"context"
	"time"

	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
)

// CastVoteTimer periodically asserts the granted vote to the local cluster
// runtime, per spec.md §4.3's "Cast-vote timer (client)" paragraph.
// Grounded on qdevice_net_cast_vote_timer_update/_callback.
type CastVoteTimer struct {
	wheel    *timerwheel.Wheel
	runtime  runtime.ClusterRuntime
	interval time.Duration
	metrics  *metrics.ClientMetrics

	vote   wire.Vote
	paused bool
	timer  *timerwheel.Timer
}

// NewCastVoteTimer creates a stopped cast-vote timer; call SetVote to arm
// it.
func NewCastVoteTimer(wheel *timerwheel.Wheel, rt runtime.ClusterRuntime, interval time.Duration) *CastVoteTimer {
	return &CastVoteTimer{wheel: wheel, runtime: rt, interval: interval, vote: wire.VoteUndefined}
}

// SetMetrics attaches m so every tick is recorded; passing nil disables it.
func (t *CastVoteTimer) SetMetrics(m *metrics.ClientMetrics) {
	t.metrics = m
}

// SetVote updates the vote the timer asserts on each tick, per spec.md
// §4.3: Ack/Nack arm the timer if stopped; WaitForReply/AskLater stop it;
// NoChange is ignored.
func (t *CastVoteTimer) SetVote(vote wire.Vote) {
	switch vote {
	case wire.VoteNoChange:
		return
	case wire.VoteAck, wire.VoteNack:
		t.vote = vote
		if t.timer == nil {
			t.arm()
		}
	case wire.VoteWaitForReply, wire.VoteAskLater:
		t.vote = vote
		t.stop()
	}
}

// SetPaused suspends or resumes ticking independently of the vote value,
// used while heuristics run against a new membership.
func (t *CastVoteTimer) SetPaused(paused bool) {
	if paused == t.paused {
		return
	}
	t.paused = paused
	if paused {
		t.stop()
	} else if t.vote == wire.VoteAck || t.vote == wire.VoteNack {
		t.arm()
	}
}

func (t *CastVoteTimer) arm() {
	t.timer = t.wheel.Add(t.interval, t.tick)
}

func (t *CastVoteTimer) stop() {
	if t.timer != nil {
		t.wheel.Cancel(t.timer)
		t.timer = nil
	}
}

// tick is the timerwheel.CallbackFunc fired every interval; it returns
// true (reschedule) as long as the timer should keep running.
func (t *CastVoteTimer) tick() bool {
	if t.paused {
		return true
	}
	switch t.vote {
	case wire.VoteAck:
		_ = t.runtime.CastVote(context.Background(), t.runtime.ExpectedVotes())
		t.metrics.CastVote(wire.VoteAck)
		return true
	case wire.VoteNack:
		_ = t.runtime.CastVote(context.Background(), 0)
		t.metrics.CastVote(wire.VoteNack)
		return true
	default:
		t.timer = nil
		return false
	}
}
