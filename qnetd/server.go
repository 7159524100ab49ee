package qnetd

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/luxfi/qnetd/nettls"
	"github.com/luxfi/qnetd/wire"
)

// eventKind tags what kind of occurrence a connection's reader goroutine
// is reporting to the reactor.
type eventKind uint8

const (
	eventConnect eventKind = iota
	eventMessage
	eventSkipped
	eventDisconnect
)

type event struct {
	kind   eventKind
	client *Client
	raw    []byte
	reason wire.ReplyErrorCode
}

// Server drives the accept loop and the single reactor goroutine that
// owns every Client/Registry mutation, per SPEC_FULL.md §5's "channels
// funneling into one select loop" concurrency model: each connection gets
// its own reader/writer goroutine pair, but state only changes on the
// reactor goroutine that receives their events.
type Server struct {
	Inst *Instance

	listener       net.Listener
	events         chan event
	maxSendBuffers int
	maxReceiveSize int

	tlsConfig          *tls.Config
	tlsSupported       wire.TLSSupported
	clientCertRequired bool
}

// NewServer wraps listener with a reactor bound to inst. Clients are
// preinit-offered wire.TLSSupportedOpt (optional STARTTLS) until
// SetTLSConfig/SetTLSPolicy configures otherwise.
func NewServer(inst *Instance, listener net.Listener, maxSendBuffers, maxReceiveSize int) *Server {
	return &Server{
		Inst:           inst,
		listener:       listener,
		events:         make(chan event, 256),
		maxSendBuffers: maxSendBuffers,
		maxReceiveSize: maxReceiveSize,
		tlsSupported:   wire.TLSSupportedOpt,
	}
}

// SetTLSPolicy configures the TLS stance advertised in PreinitReply and,
// when supported != wire.TLSUnsupported, the *tls.Config used to upgrade
// a connection once a client sends StartTls. clientCertRequired is echoed
// back in PreinitReply per spec.md §4.3 step 2.
func (s *Server) SetTLSPolicy(supported wire.TLSSupported, clientCertRequired bool, tlsConfig *tls.Config) {
	s.tlsSupported = supported
	s.clientCertRequired = clientCertRequired
	s.tlsConfig = tlsConfig
}

// Serve runs the accept loop until ctx is cancelled or the listener
// errors; the reactor goroutine runs for the lifetime of the call. The
// events channel is never closed (multiple reader goroutines feed it
// concurrently); every goroutine that sends on it instead selects against
// ctx.Done() to unwind once the caller cancels ctx.
func (s *Server) Serve(ctx context.Context) error {
	go s.reactor(ctx)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		client := NewClient(conn, s.maxSendBuffers, s.maxReceiveSize)
		client.UseKnownMessageFilter(IsKnownMessage, s.maxReceiveSize)

		select {
		case s.events <- event{kind: eventConnect, client: client}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
		go s.readLoop(ctx, client)
		go s.writeLoop(client)
	}
}

func (s *Server) readLoop(ctx context.Context, c *Client) {
	for {
		outcome, err := c.Assembler().Feed(c.Conn())
		for _, raw := range outcome.Messages {
			msgType, _, peekErr := wire.PeekHeader(raw)
			if peekErr == nil && msgType == wire.MsgStartTLS {
				if !s.upgradeTLS(c) {
					return
				}
				continue
			}
			select {
			case s.events <- event{kind: eventMessage, client: c, raw: raw}:
			case <-ctx.Done():
				return
			}
		}
		if outcome.Skipped {
			select {
			case s.events <- event{kind: eventSkipped, client: c, reason: outcome.Reason}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case s.events <- event{kind: eventDisconnect, client: c}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// upgradeTLS performs the server side of a STARTTLS upgrade inline on the
// reader goroutine: the client writes StartTls and immediately begins its
// TLS handshake (no reply is sent for StartTls itself, per spec.md §4.3
// step 3), so the reader must switch conn and assembler before reading
// again. Returns false if the handshake failed, signalling the caller to
// drop the connection.
func (s *Server) upgradeTLS(c *Client) bool {
	if s.tlsConfig == nil {
		return false
	}
	tlsConn := nettls.Upgrade(c.Conn(), s.tlsConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return false
	}
	c.SetConn(tlsConn)
	c.UseKnownMessageFilter(IsKnownMessage, s.maxReceiveSize)
	c.Handshake().TLSStarted = true
	if s.clientCertRequired {
		c.Handshake().TLSPeerCertVerified = len(tlsConn.ConnectionState().PeerCertificates) > 0
	}
	return true
}

func (s *Server) writeLoop(c *Client) {
	for range c.Wake() {
		for !c.SendQueue().Empty() {
			if _, err := c.SendQueue().WriteSome(c.Conn()); err != nil {
				return
			}
		}
	}
}

// reactor is the single goroutine that mutates Instance/Registry/Client
// state; every other goroutine only ever reads bytes off the wire or
// writes bytes already queued by this loop.
func (s *Server) reactor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case eventConnect:
		// nothing to do yet: the client waits for its first Preinit.
	case eventSkipped:
		s.enqueue(ev.client, wire.EncodeServerError(0, false, ev.reason))
	case eventMessage:
		s.dispatch(ev.client, ev.raw)
	case eventDisconnect:
		s.Inst.Disconnect(ev.client, false)
		ev.client.Conn().Close()
		close(ev.client.wake) // readLoop reports disconnect exactly once; safe to close here
	}
}

func (s *Server) dispatch(c *Client, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		s.enqueue(c, wire.EncodeServerError(0, false, wire.ErrUnsupportedMessage))
		return
	}

	var reply []byte
	switch msg.Type {
	case wire.MsgPreinit:
		reply = s.Inst.HandlePreinit(c, msg, s.tlsSupported, s.clientCertRequired)
	case wire.MsgInit:
		reply = s.Inst.HandleInit(c, msg)
	case wire.MsgSetOption:
		reply = s.Inst.HandleSetOption(c, msg)
	case wire.MsgNodeList:
		reply = s.Inst.HandleNodeList(c, msg)
	case wire.MsgAskForVote:
		reply = s.Inst.HandleAskForVote(c, msg)
	case wire.MsgHeuristicsChange:
		reply = s.Inst.HandleHeuristicsChange(c, msg)
	case wire.MsgVoteInfoReply:
		s.Inst.HandleVoteInfoReply(c, msg)
		return
	case wire.MsgEchoRequest:
		reply = s.Inst.HandleEchoRequest(raw)
	default:
		reply = wire.EncodeServerError(0, false, wire.ErrUnsupportedMessage)
	}

	if reply != nil {
		s.enqueue(c, reply)
	}
}

func (s *Server) enqueue(c *Client, data []byte) {
	c.Enqueue(data)
}
