package qdevice

import (
	"testing"
	"time"

	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

func TestCastVoteTimerAssertsAckOnEachTick(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)

	timer := NewCastVoteTimer(wheel, rt, 10*time.Millisecond)
	timer.SetVote(wire.VoteAck)

	for i := 0; i < 3; i++ {
		clock = clock.Add(10 * time.Millisecond)
		wheel.Expire()
	}

	require.Equal(t, []uint32{1, 1, 1}, rt.CastVotes)
}

func TestCastVoteTimerAssertsNackZeroVotes(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 5)

	timer := NewCastVoteTimer(wheel, rt, 10*time.Millisecond)
	timer.SetVote(wire.VoteNack)

	clock = clock.Add(10 * time.Millisecond)
	wheel.Expire()

	require.Equal(t, []uint32{0}, rt.CastVotes)
}

func TestCastVoteTimerStopsOnWaitForReply(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)

	timer := NewCastVoteTimer(wheel, rt, 10*time.Millisecond)
	timer.SetVote(wire.VoteAck)
	timer.SetVote(wire.VoteWaitForReply)

	clock = clock.Add(10 * time.Millisecond)
	wheel.Expire()

	require.Empty(t, rt.CastVotes)
	require.Equal(t, 0, wheel.Len())
}

func TestCastVoteTimerNoChangeIsIgnored(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)

	timer := NewCastVoteTimer(wheel, rt, 10*time.Millisecond)
	timer.SetVote(wire.VoteAck)
	timer.SetVote(wire.VoteNoChange)

	clock = clock.Add(10 * time.Millisecond)
	wheel.Expire()

	require.Equal(t, []uint32{1}, rt.CastVotes)
}

func TestCastVoteTimerPauseSuspendsTicking(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	wheel := timerwheel.New(now)
	rt := runtime.NewFakeRuntime(1, 1)

	timer := NewCastVoteTimer(wheel, rt, 10*time.Millisecond)
	timer.SetVote(wire.VoteAck)
	timer.SetPaused(true)

	clock = clock.Add(10 * time.Millisecond)
	wheel.Expire()
	require.Empty(t, rt.CastVotes)

	timer.SetPaused(false)
	clock = clock.Add(10 * time.Millisecond)
	wheel.Expire()
	require.Equal(t, []uint32{1}, rt.CastVotes)
}
