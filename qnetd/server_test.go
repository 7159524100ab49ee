package qnetd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"testing"
	"time"

	qlog "github.com/luxfi/qnetd/log"
	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

// selfSignedServerTLSConfig builds an in-memory cert/key pair, grounded on
// the pack's own ECDSA self-signed cert helper used to exercise TLS
// listeners in tests without touching the filesystem.
func selfSignedServerTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
}

// newTestServer wires a Server around inst without a real listener; the
// caller drives readLoop/writeLoop directly against a net.Pipe() pair,
// since net.Pipe has no Listener counterpart.
func newTestServer(inst *Instance) *Server {
	return NewServer(inst, nil, 32, 32768)
}

func readFramed(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	header := make([]byte, wire.HeaderLen)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	_, payloadLen, err := wire.PeekHeader(header)
	require.NoError(t, err)
	body := make([]byte, payloadLen)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return append(header, body...)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerRoundTripsPreinitOverPipe(t *testing.T) {
	inst := NewInstance(qlog.NoLog{}, 32768, 32768)
	s := newTestServer(inst)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	client := NewClient(serverConn, 32, 32768)
	client.UseKnownMessageFilter(IsKnownMessage, 32768)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go s.reactor(ctx)
	go s.readLoop(ctx, client)
	go s.writeLoop(client)

	select {
	case s.events <- event{kind: eventConnect, client: client}:
	case <-time.After(time.Second):
		t.Fatal("timed out delivering eventConnect")
	}

	_, err := clientConn.Write(wire.EncodePreinit(1, "c1"))
	require.NoError(t, err)

	reply := readFramed(t, clientConn)
	decoded, err := wire.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, wire.MsgPreinitReply, decoded.Type)
}

func TestServerRoundTripsEchoOverPipe(t *testing.T) {
	inst := NewInstance(qlog.NoLog{}, 32768, 32768)
	s := newTestServer(inst)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	client := NewClient(serverConn, 32, 32768)
	client.UseKnownMessageFilter(IsKnownMessage, 32768)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go s.reactor(ctx)
	go s.readLoop(ctx, client)
	go s.writeLoop(client)

	select {
	case s.events <- event{kind: eventConnect, client: client}:
	case <-time.After(time.Second):
		t.Fatal("timed out delivering eventConnect")
	}

	_, err := clientConn.Write(wire.EncodeEchoRequest(42))
	require.NoError(t, err)

	reply := readFramed(t, clientConn)
	decoded, err := wire.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, wire.MsgEchoReply, decoded.Type)
	require.Equal(t, uint32(42), decoded.SeqNumber)
}

func TestServerUpgradesStartTLSThenCompletesHandshake(t *testing.T) {
	inst := NewInstance(qlog.NoLog{}, 32768, 32768)
	s := newTestServer(inst)
	s.SetTLSPolicy(wire.TLSRequired, false, selfSignedServerTLSConfig(t))

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	client := NewClient(serverConn, 32, 32768)
	client.UseKnownMessageFilter(IsKnownMessage, 32768)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go s.reactor(ctx)
	go s.readLoop(ctx, client)
	go s.writeLoop(client)

	select {
	case s.events <- event{kind: eventConnect, client: client}:
	case <-time.After(time.Second):
		t.Fatal("timed out delivering eventConnect")
	}

	_, err := clientConn.Write(wire.EncodePreinit(1, "c1"))
	require.NoError(t, err)
	reply := readFramed(t, clientConn)
	decoded, err := wire.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, wire.MsgPreinitReply, decoded.Type)
	require.True(t, decoded.TLSSupportedSet)
	require.Equal(t, wire.TLSRequired, decoded.TLSSupported)

	_, err = clientConn.Write(wire.EncodeStartTLS(2))
	require.NoError(t, err)

	tlsClient := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
	hsCtx, hsCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hsCancel()
	require.NoError(t, tlsClient.HandshakeContext(hsCtx))

	_, err = tlsClient.Write(wire.EncodeEchoRequest(7))
	require.NoError(t, err)

	header := make([]byte, wire.HeaderLen)
	_, err = readFull(tlsClient, header)
	require.NoError(t, err)
	_, payloadLen, err := wire.PeekHeader(header)
	require.NoError(t, err)
	body := make([]byte, payloadLen)
	_, err = readFull(tlsClient, body)
	require.NoError(t, err)

	echoReply, err := wire.Decode(append(header, body...))
	require.NoError(t, err)
	require.Equal(t, wire.MsgEchoReply, echoReply.Type)
	require.Equal(t, uint32(7), echoReply.SeqNumber)
	require.True(t, client.Handshake().TLSStarted)
}

func TestServerDisconnectClosesWriterOnReadError(t *testing.T) {
	inst := NewInstance(qlog.NoLog{}, 32768, 32768)
	s := newTestServer(inst)

	clientConn, serverConn := net.Pipe()
	client := NewClient(serverConn, 32, 32768)
	client.UseKnownMessageFilter(IsKnownMessage, 32768)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	writerDone := make(chan struct{})
	go s.reactor(ctx)
	go s.readLoop(ctx, client)
	go func() {
		s.writeLoop(client)
		close(writerDone)
	}()

	select {
	case s.events <- event{kind: eventConnect, client: client}:
	case <-time.After(time.Second):
		t.Fatal("timed out delivering eventConnect")
	}

	clientConn.Close()

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer goroutine leaked past disconnect")
	}
	require.False(t, client.Connected())
}
