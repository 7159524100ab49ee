package timerwheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestExpireFiresInOrder(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(clock.now)

	var fired []string
	w.Add(30*time.Millisecond, func() bool { fired = append(fired, "slow"); return false })
	w.Add(10*time.Millisecond, func() bool { fired = append(fired, "fast"); return false })

	clock.advance(40 * time.Millisecond)
	w.Expire()

	require.Equal(t, []string{"fast", "slow"}, fired)
	require.Equal(t, 0, w.Len())
}

func TestExpireReschedulesOnTrueReturn(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(clock.now)

	count := 0
	w.Add(10*time.Millisecond, func() bool {
		count++
		return count < 3
	})

	for i := 0; i < 3; i++ {
		clock.advance(10 * time.Millisecond)
		w.Expire()
	}

	require.Equal(t, 3, count)
	require.Equal(t, 0, w.Len())
}

func TestCancelIsIdempotentAndRemovesTimer(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(clock.now)

	fired := false
	timer := w.Add(10*time.Millisecond, func() bool { fired = true; return false })
	w.Cancel(timer)
	w.Cancel(timer) // must not panic or double-remove

	clock.advance(20 * time.Millisecond)
	w.Expire()

	require.False(t, fired)
	require.Equal(t, 0, w.Len())
}

func TestRescheduleResetsExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(clock.now)

	fired := false
	timer := w.Add(10*time.Millisecond, func() bool { fired = true; return false })

	clock.advance(5 * time.Millisecond)
	w.Reschedule(timer)

	clock.advance(6 * time.Millisecond) // 11ms since add, but only 6ms since reschedule
	w.Expire()
	require.False(t, fired)

	clock.advance(5 * time.Millisecond)
	w.Expire()
	require.True(t, fired)
}

func TestTimeToExpireReportsNextDeadline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(clock.now)

	require.Equal(t, time.Duration(-1), w.TimeToExpire())

	w.Add(50*time.Millisecond, func() bool { return false })
	w.Add(20*time.Millisecond, func() bool { return false })

	require.Equal(t, 20*time.Millisecond, w.TimeToExpire())

	clock.advance(25 * time.Millisecond)
	require.Equal(t, time.Duration(0), w.TimeToExpire())
}

func TestAddRejectsOutOfRangeInterval(t *testing.T) {
	w := New(nil)
	require.Nil(t, w.Add(0, func() bool { return false }))
	require.Nil(t, w.Add(-time.Second, func() bool { return false }))
	require.Nil(t, w.Add(MaxInterval+time.Second, func() bool { return false }))
}
