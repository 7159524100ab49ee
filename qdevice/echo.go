package qdevice

import (
	"time"

	"github.com/luxfi/qnetd/timerwheel"
)

// MissedHook is invoked when an echo reply fails to match the expected
// sequence, per spec.md §4.3. Instance.onEchoMissed, the hook Instance
// installs, requests disconnect unless the algorithm is lms, wait_for_all
// is enabled and the last granted vote was Ack; in that case it returns
// without doing anything.
type MissedHook func()

// EchoTimer drives the once-per-heartbeat-interval EchoRequest/EchoReply
// dead-peer check on the client side. Grounded on
// original_source/qdevices/qdevice-net-echo-request-timer.c.
type EchoTimer struct {
	wheel    *timerwheel.Wheel
	interval time.Duration
	send     func(seq uint32)
	missed   MissedHook

	expectedSeq uint32
	receivedSeq uint32
	haveReply   bool
	timer       *timerwheel.Timer
}

// NewEchoTimer creates an echo timer. send enqueues an EchoRequest(seq)
// message; missed fires when the previous tick's reply never arrived.
func NewEchoTimer(wheel *timerwheel.Wheel, interval time.Duration, send func(seq uint32), missed MissedHook) *EchoTimer {
	return &EchoTimer{wheel: wheel, interval: interval, send: send, missed: missed}
}

// Start arms the timer, matching the steady-state entry in spec.md §4.3.
func (e *EchoTimer) Start() {
	if e.timer == nil {
		e.timer = e.wheel.Add(e.interval, e.tick)
	}
}

// Stop disarms the timer, e.g. on disconnect.
func (e *EchoTimer) Stop() {
	if e.timer != nil {
		e.wheel.Cancel(e.timer)
		e.timer = nil
	}
}

// OnReply records an EchoReply's echoed sequence number.
func (e *EchoTimer) OnReply(seq uint32) {
	if seq == e.expectedSeq {
		e.receivedSeq = seq
		e.haveReply = true
	}
}

func (e *EchoTimer) tick() bool {
	if !e.haveReply && e.expectedSeq != 0 {
		e.missed()
		return false
	}
	e.expectedSeq++
	e.haveReply = false
	e.send(e.expectedSeq)
	return true
}

// DeadPeerSweep is the server-side mirror: it disconnects any client that
// has produced no inbound frame across two heartbeat windows, matching
// spec.md §4.3's "server independently runs a dead-peer sweep" paragraph.
// Kept here rather than in package qnetd since it is driven by the same
// timerwheel.Wheel primitives as the client echo timer. The silence
// threshold itself is applied by the caller-supplied check function.
type DeadPeerSweep struct {
	wheel    *timerwheel.Wheel
	interval time.Duration
	check    func(now time.Time) []uint32 // returns node ids of clients to disconnect
	onDead   func(nodeID uint32)

	timer *timerwheel.Timer
	now   func() time.Time
}

// NewDeadPeerSweep creates a server-side DPD sweep. check is called each
// tick and returns the node ids that have exceeded the silence threshold;
// onDead is invoked once per returned id.
func NewDeadPeerSweep(wheel *timerwheel.Wheel, interval time.Duration, now func() time.Time, check func(time.Time) []uint32, onDead func(uint32)) *DeadPeerSweep {
	if now == nil {
		now = time.Now
	}
	return &DeadPeerSweep{wheel: wheel, interval: interval, check: check, onDead: onDead, now: now}
}

// Start arms the sweep.
func (d *DeadPeerSweep) Start() {
	if d.timer == nil {
		d.timer = d.wheel.Add(d.interval, d.tick)
	}
}

// Stop disarms the sweep, e.g. on server shutdown.
func (d *DeadPeerSweep) Stop() {
	if d.timer != nil {
		d.wheel.Cancel(d.timer)
		d.timer = nil
	}
}

func (d *DeadPeerSweep) tick() bool {
	for _, nodeID := range d.check(d.now()) {
		d.onDead(nodeID)
	}
	return true
}
