package qdevice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/qnetd/heuristics"
	"github.com/luxfi/qnetd/metrics"
	"github.com/luxfi/qnetd/netio"
	"github.com/luxfi/qnetd/runtime"
	"github.com/luxfi/qnetd/timerwheel"
	"github.com/luxfi/qnetd/wire"
)

// ErrLocalRuntimeClosed is returned by Run when the local cluster runtime's
// event channel closes: one of the "do not reconnect" disconnect reasons
// spec.md §9/§4.3 names, since a closed runtime channel means the local
// votequorum collaborator is gone for good, not just this one connection.
var ErrLocalRuntimeClosed = errors.New("qdevice: local cluster runtime closed")

// ErrEchoMissed is returned by Run when the echo timer's missed-reply hook
// requests disconnect (spec.md §4.3 echo/dead-peer paragraph); reconnect-
// eligible, unlike ErrLocalRuntimeClosed.
var ErrEchoMissed = errors.New("qdevice: echo reply missed, server considered dead")

// DialParams bundles everything Dial needs beyond the handshake's own
// Params: the address to connect to, an optional TLS config (installed
// only if the server's PreinitReply negotiates STARTTLS), and the bounds
// governing the local send/receive buffers.
type DialParams struct {
	Addr           string
	TLSConfig      *tls.Config
	MaxSendBuffers int
	MaxReceiveSize int
}

// Dial performs the full handshake (spec.md §4.3 steps 1–7) over a freshly
// opened TCP connection and returns a Session ready for Run. It is the Go
// analogue of qdevice-net-instance.c's qdevice_net_instance_init_from_cfg
// followed by the synchronous part of the connect state machine: unlike
// the reactor-driven steady state, the handshake is small and strictly
// request/reply, so it is walked synchronously here rather than through
// the event loop Run later drives.
func Dial(ctx context.Context, dp DialParams, params Params, rt runtime.ClusterRuntime, heur heuristics.Executor, l log.Logger, heartbeat time.Duration) (*Session, error) {
	rawConn, err := net.DialTimeout("tcp", dp.Addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("qdevice: dial %s: %w", dp.Addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(dl)
	}

	return handshake(ctx, rawConn, dp, params, rt, heur, l, heartbeat)
}

// handshake walks steps 1–7 of spec.md §4.3 over an already-connected
// conn, split out from Dial so the handshake can be exercised in tests
// against a net.Pipe() pair without a real socket.
func handshake(ctx context.Context, rawConn net.Conn, dp DialParams, params Params, rt runtime.ClusterRuntime, heur heuristics.Executor, l log.Logger, heartbeat time.Duration) (*Session, error) {
	conn := rawConn
	asm := netio.NewAssembler(dp.MaxReceiveSize, nil)

	hs := NewConnection(params)

	if _, err := conn.Write(hs.BuildPreinit()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: writing preinit: %w", err)
	}
	raw, err := readOneFramed(conn, asm)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: reading preinit reply: %w", err)
	}
	preinitReply, err := wire.Decode(raw)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: decoding preinit reply: %w", err)
	}

	startTLS, err := hs.HandlePreinitReply(preinitReply.SeqNumber, preinitReply.TLSSupported)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if startTLS != nil {
		if _, err := conn.Write(startTLS); err != nil {
			conn.Close()
			return nil, fmt.Errorf("qdevice: writing starttls: %w", err)
		}
		if dp.TLSConfig == nil {
			conn.Close()
			return nil, fmt.Errorf("qdevice: server negotiated tls but no client tls config was supplied")
		}
		tlsConn := tls.Client(conn, dp.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("qdevice: tls handshake: %w", err)
		}
		conn = tlsConn
		asm = netio.NewAssembler(dp.MaxReceiveSize, nil)
	}

	if _, err := conn.Write(hs.BuildInit(supportedMessages, supportedOptions)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: writing init: %w", err)
	}
	raw, err = readOneFramed(conn, asm)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: reading init reply: %w", err)
	}
	initReply, err := wire.Decode(raw)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: decoding init reply: %w", err)
	}
	if err := hs.HandleInitReply(initReply); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := conn.Write(hs.BuildSetOption(uint32(heartbeat/time.Millisecond), params.TieBreaker)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: writing set option: %w", err)
	}
	raw, err = readOneFramed(conn, asm)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: reading set option reply: %w", err)
	}
	if _, err := wire.Decode(raw); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdevice: decoding set option reply: %w", err)
	}

	// Handshake deadlines (if any) no longer apply once steady state's
	// own ctx-cancellation handling in Run takes over.
	_ = conn.SetDeadline(time.Time{})

	wheel := timerwheel.New(nil)
	s := &Session{
		conn:  conn,
		asm:   asm,
		queue: netio.NewSendQueue(dp.MaxSendBuffers),
		wheel: wheel,
		log:   l,
		wake:  make(chan struct{}, 1),
		raw:   make(chan []byte, 64),
		done:  make(chan error, 1),
	}
	s.Inst = NewInstance(hs, wheel, rt, heur, l, heartbeat, s.enqueue)
	return s, nil
}

// readOneFramed blocks until the assembler produces exactly one complete
// message (or an error/skip), used only during the synchronous handshake
// in Dial.
func readOneFramed(conn net.Conn, asm *netio.Assembler) ([]byte, error) {
	for {
		outcome, err := asm.Feed(conn)
		if len(outcome.Messages) > 0 {
			return outcome.Messages[0], nil
		}
		if outcome.Skipped {
			return nil, fmt.Errorf("qdevice: server sent %s", outcome.Reason)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Session drives one established, post-handshake connection to the
// arbiter server: a reader goroutine feeding raw frames into a channel, a
// writer goroutine draining the send queue on wake, and Run as the single
// goroutine that owns the timer wheel and the Instance it drives —
// mirroring qnetd.Server's reactor, but sized for exactly one connection
// instead of fanning in many.
type Session struct {
	conn  net.Conn
	asm   *netio.Assembler
	queue *netio.SendQueue
	wheel *timerwheel.Wheel
	log   log.Logger

	Inst *Instance

	wake chan struct{}
	raw  chan []byte
	done chan error
}

// SetMetrics attaches m to the session's underlying Instance.
func (s *Session) SetMetrics(m *metrics.ClientMetrics) {
	s.Inst.SetMetrics(m)
}

func (s *Session) enqueue(data []byte) {
	if err := s.queue.GetNew(data); err != nil {
		s.log.Warn("qdevice: send queue full, dropping outbound message")
		return
	}
	s.queue.Put(nil)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) readLoop() {
	for {
		outcome, err := s.asm.Feed(s.conn)
		for _, m := range outcome.Messages {
			s.raw <- m
		}
		if err != nil {
			s.done <- err
			return
		}
	}
}

func (s *Session) writeLoop(stop <-chan struct{}) {
	for {
		select {
		case <-s.wake:
			for !s.queue.Empty() {
				if _, err := s.queue.WriteSome(s.conn); err != nil {
					return
				}
			}
		case <-stop:
			return
		}
	}
}

// Run drives the steady-state reactor until ctx is cancelled or the
// connection fails: timers fire through the wheel, and every inbound
// frame is decoded and dispatched to the matching Instance.Handle*
// method, all on this one goroutine.
func (s *Session) Run(ctx context.Context) error {
	stopWriter := make(chan struct{})
	go s.readLoop()
	go s.writeLoop(stopWriter)
	defer close(stopWriter)
	defer s.conn.Close()

	// Unblocks readLoop's in-flight Read once the caller cancels ctx,
	// the same role qnetd.Server's listener-closing goroutine plays for
	// accept().
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	s.Inst.Start()
	defer s.Inst.Stop()

	for {
		var timer *time.Timer
		if d := s.wheel.TimeToExpire(); d >= 0 {
			timer = time.NewTimer(d)
		}

		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case err := <-s.done:
			if timer != nil {
				timer.Stop()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		case raw := <-s.raw:
			if timer != nil {
				timer.Stop()
			}
			s.dispatch(raw)
		case ev, ok := <-s.Inst.Runtime.Events():
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				return ErrLocalRuntimeClosed
			}
			s.Inst.OnMembershipChanged(ev)
		case result := <-s.Inst.Heur.Results():
			if timer != nil {
				timer.Stop()
			}
			s.Inst.OnHeuristicsResult(result)
		case <-s.Inst.Dead():
			if timer != nil {
				timer.Stop()
			}
			return ErrEchoMissed
		case <-timerC:
			s.wheel.Expire()
		}
	}
}

func (s *Session) dispatch(raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		s.log.Warn("qdevice: dropping malformed message from server")
		return
	}

	switch msg.Type {
	case wire.MsgEchoReply:
		s.Inst.HandleEchoReply(msg)
	case wire.MsgNodeListReply:
		s.Inst.HandleNodeListReply(msg)
	case wire.MsgAskForVoteReply:
		s.Inst.HandleAskForVoteReply(msg)
	case wire.MsgVoteInfo:
		s.Inst.HandleVoteInfo(msg)
	case wire.MsgHeuristicsChangeReply:
		s.Inst.HandleHeuristicsChangeReply(msg)
	case wire.MsgServerError:
		s.log.Warn("qdevice: server reported error", "code", msg.ReplyErrorCode)
	default:
		s.log.Warn("qdevice: unexpected message type from server in steady state")
	}
}
