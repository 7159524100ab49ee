package netio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/qnetd/wire"
)

type fakeReader struct {
	chunks [][]byte
	i      int
}

func (f *fakeReader) Read(p []byte) (int, error) {
	if f.i >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.i])
	f.i++
	return n, nil
}

func TestAssemblerReassemblesSplitMessage(t *testing.T) {
	raw := wire.EncodeEchoRequest(1)
	r := &fakeReader{chunks: [][]byte{raw[:3], raw[3:]}}
	a := NewAssembler(4096, nil)

	out, err := a.Feed(r)
	require.NoError(t, err)
	require.Empty(t, out.Messages)

	out, err = a.Feed(r)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	require.Equal(t, raw, out.Messages[0])
}

func TestAssemblerSkipsOversizedMessage(t *testing.T) {
	raw := wire.EncodeInit(wire.InitParams{Seq: 1, SupportedMessages: make([]wire.MsgType, 100)})
	followUp := wire.EncodeEchoRequest(2)
	r := &fakeReader{chunks: [][]byte{raw, followUp}}
	a := NewAssembler(len(raw)-1, nil)

	out, err := a.Feed(r)
	require.NoError(t, err)
	require.True(t, out.Skipped)
	require.Equal(t, wire.ErrMessageTooLong, out.Reason)
	require.Empty(t, out.Messages)

	out, err = a.Feed(r)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	require.Equal(t, followUp, out.Messages[0])
}

func TestAssemblerSkipsUnknownMessageType(t *testing.T) {
	raw := wire.EncodeEchoRequest(1)
	followUp := wire.EncodeEchoRequest(2)
	r := &fakeReader{chunks: [][]byte{raw, followUp}}
	a := NewAssembler(4096, func(wire.MsgType) bool { return false })

	out, err := a.Feed(r)
	require.NoError(t, err)
	require.True(t, out.Skipped)
	require.Equal(t, wire.ErrUnsupportedMessage, out.Reason)
}

func TestSendQueueFIFOAndPostSendHook(t *testing.T) {
	q := NewSendQueue(2)
	fired := false

	require.NoError(t, q.GetNew([]byte("hello")))
	q.Put(func() { fired = true })

	var buf bytes.Buffer
	done, err := q.WriteSome(&buf)
	require.NoError(t, err)
	require.True(t, done)
	require.True(t, fired)
	require.Equal(t, "hello", buf.String())
	require.True(t, q.Empty())
}

func TestSendQueueRejectsOverCapacity(t *testing.T) {
	q := NewSendQueue(1)
	require.NoError(t, q.GetNew([]byte("a")))
	q.Put(nil)
	require.ErrorIs(t, q.GetNew([]byte("b")), ErrSendQueueFull)
}

func TestSendQueueChunksLargeWrites(t *testing.T) {
	q := NewSendQueue(1)
	big := bytes.Repeat([]byte("x"), writeChunk+10)
	require.NoError(t, q.GetNew(big))
	q.Put(nil)

	var buf bytes.Buffer
	done, err := q.WriteSome(&buf)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, writeChunk, buf.Len())

	done, err = q.WriteSome(&buf)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, big, buf.Bytes())
}
