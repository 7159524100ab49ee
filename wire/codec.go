package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed 6-byte message header: msg_type(u16be) +
// payload_len(u32be).
const HeaderLen = 6

// Option header is opt_type(u16be) + opt_len(u16be).
const optHeaderLen = 4

// RingIDLen is the wire size of a RingId option: u32 node id + u64 seq.
const RingIDLen = 12

// TieBreakerLen is the wire size of a TieBreaker option: mode byte + u32.
const TieBreakerLen = 5

// NodeInfoFixedLen is the wire size of a NodeInfo's fixed fields: node_id,
// data_center_id, node_state. NodeInfo itself nests inside a NodeList
// sub-payload as repeated TLV options, not as one flat struct, matching
// qnetd-algo-utils.c's node list helpers.
const NodeInfoFixedLen = 9

var (
	// ErrInvalidOptionLength is returned when a typed option's length does
	// not match its declared shape (spec.md §4.1).
	ErrInvalidOptionLength = errors.New("wire: invalid option length")
	// ErrOutOfMemory exists for wire-level API parity with the source; Go's
	// allocator panics instead of returning this in practice, so it is
	// never raised on the normal decode path.
	ErrOutOfMemory = errors.New("wire: out of memory")
	// ErrInconsistentLength is returned when an option's declared length
	// would run past the end of the message.
	ErrInconsistentLength = errors.New("wire: inconsistent option length")
	// ErrInvalidOptionValue is returned when an enum-valued option's byte
	// is out of its valid range.
	ErrInvalidOptionValue = errors.New("wire: invalid option value")
)

// Encoder accumulates TLV options into a payload buffer, then frames them
// behind a message header. It is deliberately not safe for concurrent use:
// each connection owns exactly one outbound Encoder per in-flight message,
// matching the single send-buffer-slot usage in qnetd-net-send.c.
type Encoder struct {
	msgType MsgType
	buf     []byte
}

// NewEncoder starts building a message of the given type.
func NewEncoder(msgType MsgType) *Encoder {
	return &Encoder{msgType: msgType, buf: make([]byte, 0, 128)}
}

func (e *Encoder) header(opt OptionType, length int) {
	var h [optHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], uint16(opt))
	binary.BigEndian.PutUint16(h[2:4], uint16(length))
	e.buf = append(e.buf, h[:]...)
}

// U8 appends a one-byte option.
func (e *Encoder) U8(opt OptionType, v uint8) *Encoder {
	e.header(opt, 1)
	e.buf = append(e.buf, v)
	return e
}

// Bool appends a one-byte boolean option (0/1).
func (e *Encoder) Bool(opt OptionType, v bool) *Encoder {
	if v {
		return e.U8(opt, 1)
	}
	return e.U8(opt, 0)
}

// U16 appends a two-byte big-endian option.
func (e *Encoder) U16(opt OptionType, v uint16) *Encoder {
	e.header(opt, 2)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// U32 appends a four-byte big-endian option.
func (e *Encoder) U32(opt OptionType, v uint32) *Encoder {
	e.header(opt, 4)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// U64 appends an eight-byte big-endian option.
func (e *Encoder) U64(opt OptionType, v uint64) *Encoder {
	e.header(opt, 8)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Str appends a string option. Strings carry their length in the option
// header and are not NUL-terminated on the wire.
func (e *Encoder) Str(opt OptionType, s string) *Encoder {
	e.header(opt, len(s))
	e.buf = append(e.buf, s...)
	return e
}

// U16Array appends an array of u16be values as one option, used for
// SupportedMessages/SupportedOptions.
func (e *Encoder) U16Array(opt OptionType, vals []uint16) *Encoder {
	e.header(opt, len(vals)*2)
	for _, v := range vals {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		e.buf = append(e.buf, b[:]...)
	}
	return e
}

// RingID appends a 12-byte RingId option.
func (e *Encoder) RingID(opt OptionType, r RingID) *Encoder {
	e.header(opt, RingIDLen)
	var b [RingIDLen]byte
	binary.BigEndian.PutUint32(b[0:4], r.NodeID)
	binary.BigEndian.PutUint64(b[4:12], r.Seq)
	e.buf = append(e.buf, b[:]...)
	return e
}

// TieBreaker appends a 5-byte TieBreaker option (mode byte, then a u32
// that is 0 unless mode == NodeID).
func (e *Encoder) TieBreaker(opt OptionType, t TieBreaker) *Encoder {
	e.header(opt, TieBreakerLen)
	var b [TieBreakerLen]byte
	b[0] = byte(t.Mode)
	nodeID := t.NodeID
	if t.Mode != TieBreakerNodeID {
		nodeID = 0
	}
	binary.BigEndian.PutUint32(b[1:5], nodeID)
	e.buf = append(e.buf, b[:]...)
	return e
}

// NodeInfo appends a NodeInfo option as a nested TLV sub-payload containing
// node_id, optional data_center_id, and optional node_state.
func (e *Encoder) NodeInfo(opt OptionType, n NodeInfo) *Encoder {
	inner := NewEncoder(e.msgType)
	inner.U32(OptNodeID, n.NodeID)
	if n.DataCenterID != 0 {
		inner.U32(OptDataCenterID, n.DataCenterID)
	}
	if n.State != NodeStateNotSet {
		inner.U8(OptNodeState, uint8(n.State))
	}
	e.header(opt, len(inner.buf))
	e.buf = append(e.buf, inner.buf...)
	return e
}

// Finish frames the accumulated payload behind the 6-byte header and
// returns the complete wire message.
func (e *Encoder) Finish() []byte {
	out := make([]byte, HeaderLen+len(e.buf))
	binary.BigEndian.PutUint16(out[0:2], uint16(e.msgType))
	binary.BigEndian.PutUint32(out[2:6], uint32(len(e.buf)))
	copy(out[HeaderLen:], e.buf)
	return out
}

// PeekHeader reads the 6-byte header without consuming anything, returning
// the declared message type and payload length. It requires at least
// HeaderLen bytes.
func PeekHeader(b []byte) (MsgType, uint32, error) {
	if len(b) < HeaderLen {
		return 0, 0, fmt.Errorf("wire: short header (%d bytes)", len(b))
	}
	return MsgType(binary.BigEndian.Uint16(b[0:2])), binary.BigEndian.Uint32(b[2:6]), nil
}

// EncodeEchoReply implements spec.md §6's EchoReply rule: copy the
// EchoRequest verbatim and overwrite the first two header bytes with the
// EchoReply message type. The input must already be a complete, framed
// message (header + payload).
func EncodeEchoReply(request []byte) []byte {
	out := make([]byte, len(request))
	copy(out, request)
	binary.BigEndian.PutUint16(out[0:2], uint16(MsgEchoReply))
	return out
}

// rawOption is one undecoded TLV entry.
type rawOption struct {
	typ   OptionType
	value []byte
}

// iterOptions walks a payload's TLV options, skipping unknown types
// silently and returning ErrInconsistentLength if any declared length would
// run past the end of the payload.
func iterOptions(payload []byte) ([]rawOption, error) {
	var opts []rawOption
	pos := 0
	for pos < len(payload) {
		if pos+optHeaderLen > len(payload) {
			return nil, ErrInconsistentLength
		}
		typ := OptionType(binary.BigEndian.Uint16(payload[pos : pos+2]))
		length := int(binary.BigEndian.Uint16(payload[pos+2 : pos+4]))
		pos += optHeaderLen
		if pos+length > len(payload) {
			return nil, ErrInconsistentLength
		}
		opts = append(opts, rawOption{typ: typ, value: payload[pos : pos+length]})
		pos += length
	}
	return opts, nil
}

func decodeU32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, ErrInvalidOptionLength
	}
	return binary.BigEndian.Uint32(v), nil
}

func decodeU16(v []byte) (uint16, error) {
	if len(v) != 2 {
		return 0, ErrInvalidOptionLength
	}
	return binary.BigEndian.Uint16(v), nil
}

func decodeU8(v []byte) (uint8, error) {
	if len(v) != 1 {
		return 0, ErrInvalidOptionLength
	}
	return v[0], nil
}

func decodeU16Array(v []byte) ([]uint16, error) {
	if len(v)%2 != 0 {
		return nil, ErrInvalidOptionLength
	}
	out := make([]uint16, len(v)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(v[i*2 : i*2+2])
	}
	return out, nil
}

func decodeRingID(v []byte) (RingID, error) {
	if len(v) != RingIDLen {
		return RingID{}, ErrInvalidOptionLength
	}
	return RingID{
		NodeID: binary.BigEndian.Uint32(v[0:4]),
		Seq:    binary.BigEndian.Uint64(v[4:12]),
	}, nil
}

func decodeTieBreaker(v []byte) (TieBreaker, error) {
	if len(v) != TieBreakerLen {
		return TieBreaker{}, ErrInvalidOptionLength
	}
	mode := TieBreakerMode(v[0])
	if mode < TieBreakerLowest || mode > TieBreakerNodeID {
		return TieBreaker{}, ErrInvalidOptionValue
	}
	return TieBreaker{Mode: mode, NodeID: binary.BigEndian.Uint32(v[1:5])}, nil
}

func decodeNodeInfo(v []byte) (NodeInfo, error) {
	opts, err := iterOptions(v)
	if err != nil {
		return NodeInfo{}, err
	}
	var n NodeInfo
	for _, o := range opts {
		switch o.typ {
		case OptNodeID:
			id, err := decodeU32(o.value)
			if err != nil {
				return NodeInfo{}, err
			}
			n.NodeID = id
		case OptDataCenterID:
			id, err := decodeU32(o.value)
			if err != nil {
				return NodeInfo{}, err
			}
			n.DataCenterID = id
		case OptNodeState:
			s, err := decodeU8(o.value)
			if err != nil {
				return NodeInfo{}, err
			}
			if s > uint8(NodeStateLeaving) {
				return NodeInfo{}, ErrInvalidOptionValue
			}
			n.State = NodeState(s)
		}
	}
	return n, nil
}
