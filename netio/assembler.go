package netio

import (
	"github.com/luxfi/qnetd/wire"
)

// readChunk bounds a single read, matching msgio.c's MSGIO_LOCAL_BUF_SIZE
// (1 KiB) scratch buffer.
const readChunk = 1024

// Reader is the subset of io.Reader the assembler pulls from.
type Reader interface {
	Read(p []byte) (int, error)
}

// Assembler reassembles a stream of bytes into framed messages, bounded by
// maxReceiveSize (spec.md §4.2). Oversized or unknown-type messages are not
// fatal: the assembler sets a skipping flag and drains the remainder so the
// caller can reply with a typed error instead of disconnecting.
type Assembler struct {
	maxReceiveSize int
	buf            []byte // bytes accumulated for the message currently in flight
	skipping       bool
	skipRemaining  int
	isKnownType    func(wire.MsgType) bool
}

// NewAssembler creates an assembler bounded to maxReceiveSize bytes per
// message. isKnownType reports whether a declared message type is one the
// endpoint supports; unsupported types are skipped the same way oversized
// messages are.
func NewAssembler(maxReceiveSize int, isKnownType func(wire.MsgType) bool) *Assembler {
	return &Assembler{maxReceiveSize: maxReceiveSize, isKnownType: isKnownType}
}

// Outcome describes what Feed produced after consuming available bytes.
type Outcome struct {
	// Messages holds zero or more complete, framed messages ready to
	// decode.
	Messages [][]byte
	// Skipped is set when an oversized or unknown-type message was
	// dropped; Reason is the typed error to send back, per spec.md §7
	// tier 1.
	Skipped bool
	Reason  wire.ReplyErrorCode
}

// Feed reads repeatedly from r (in readChunk-sized gulps) until it would
// block or the connection closes, returning every message fully
// reassembled along the way.
func (a *Assembler) Feed(r Reader) (Outcome, error) {
	var out Outcome
	var scratch [readChunk]byte

	for {
		n, err := r.Read(scratch[:])
		if n > 0 {
			a.consume(scratch[:n], &out)
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		if n < readChunk {
			// Likely drained everything currently available; let the
			// caller's poll loop decide whether to call Feed again.
			return out, nil
		}
	}
}

func (a *Assembler) consume(chunk []byte, out *Outcome) {
	for len(chunk) > 0 {
		if a.skipping {
			n := len(chunk)
			if n > a.skipRemaining {
				n = a.skipRemaining
			}
			chunk = chunk[n:]
			a.skipRemaining -= n
			if a.skipRemaining == 0 {
				a.skipping = false
			}
			continue
		}

		a.buf = append(a.buf, chunk...)
		chunk = nil

		for {
			if len(a.buf) < wire.HeaderLen {
				break
			}
			msgType, payloadLen, _ := wire.PeekHeader(a.buf)
			total := wire.HeaderLen + int(payloadLen)

			if total > a.maxReceiveSize {
				a.startSkip(total, out, wire.ErrMessageTooLong)
				continue
			}
			if a.isKnownType != nil && !a.isKnownType(msgType) {
				a.startSkip(total, out, wire.ErrUnsupportedMessage)
				continue
			}
			if len(a.buf) < total {
				break // wait for more bytes
			}

			msg := make([]byte, total)
			copy(msg, a.buf[:total])
			out.Messages = append(out.Messages, msg)
			a.buf = a.buf[total:]
		}
	}
}

// startSkip drops an oversized or unsupported message of total bytes from
// the front of a.buf. If a.buf already holds all of it, the bytes after it
// stay buffered for the next message; otherwise skip mode drains the rest
// of it from later reads.
func (a *Assembler) startSkip(total int, out *Outcome, reason wire.ReplyErrorCode) {
	out.Skipped = true
	out.Reason = reason
	if len(a.buf) >= total {
		a.buf = a.buf[total:]
		return
	}
	a.skipRemaining = total - len(a.buf)
	a.buf = nil
	a.skipping = true
}
