package wire

// DecodedMessage is the populated record returned by Decode. Each field has
// a matching "*Set" boolean per spec.md §4.1's "option-present bits"
// requirement, mirroring msg_decoded's *_set fields in the original source.
type DecodedMessage struct {
	Type MsgType

	SeqNumberSet bool
	SeqNumber    uint32

	ClusterNameSet bool
	ClusterName    string

	TLSSupportedSet bool
	TLSSupported    TLSSupported

	TLSClientCertRequiredSet bool
	TLSClientCertRequired    bool

	SupportedMessages []MsgType
	SupportedOptions  []OptionType

	ReplyErrorCodeSet bool
	ReplyErrorCode    ReplyErrorCode

	ServerMaximumRequestSizeSet bool
	ServerMaximumRequestSize    uint32

	ServerMaximumReplySizeSet bool
	ServerMaximumReplySize    uint32

	NodeIDSet bool
	NodeID    uint32

	SupportedDecisionAlgorithms []DecisionAlgorithm

	DecisionAlgorithmSet bool
	DecisionAlgorithm    DecisionAlgorithm

	HeartbeatIntervalSet bool
	HeartbeatInterval    uint32

	RingIDSet bool
	RingID    RingID

	ConfigVersionSet bool
	ConfigVersion    uint64

	Nodes []NodeInfo

	NodeListTypeSet bool
	NodeListType    NodeListType

	VoteSet bool
	Vote    Vote

	QuorateSet bool
	Quorate    Quorate

	TieBreakerSet bool
	TieBreaker    TieBreaker

	// Heuristics is always valid but can be HeuristicsUndefined, matching
	// the source's unconditional field.
	Heuristics HeuristicsResult
}

// Decode parses a complete framed message (header + payload) into a
// DecodedMessage. Unknown option types are skipped silently; an option
// type seen twice overwrites the earlier occurrence (last-write-wins, per
// iterOptions' linear scan order).
func Decode(raw []byte) (*DecodedMessage, error) {
	msgType, payloadLen, err := PeekHeader(raw)
	if err != nil {
		return nil, err
	}
	if int(HeaderLen+payloadLen) > len(raw) {
		return nil, ErrInconsistentLength
	}
	payload := raw[HeaderLen : HeaderLen+payloadLen]
	opts, err := iterOptions(payload)
	if err != nil {
		return nil, err
	}

	m := &DecodedMessage{Type: msgType}
	for _, o := range opts {
		if err := m.applyOption(o); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *DecodedMessage) applyOption(o rawOption) error {
	switch o.typ {
	case OptMsgSeqNumber:
		v, err := decodeU32(o.value)
		if err != nil {
			return err
		}
		m.SeqNumber, m.SeqNumberSet = v, true
	case OptClusterName:
		m.ClusterName, m.ClusterNameSet = string(o.value), true
	case OptTLSSupported:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(TLSRequired) {
			return ErrInvalidOptionValue
		}
		m.TLSSupported, m.TLSSupportedSet = TLSSupported(v), true
	case OptTLSClientCertRequired:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > 1 {
			return ErrInvalidOptionValue
		}
		m.TLSClientCertRequired, m.TLSClientCertRequiredSet = v == 1, true
	case OptSupportedMessages:
		vals, err := decodeU16Array(o.value)
		if err != nil {
			return err
		}
		m.SupportedMessages = m.SupportedMessages[:0]
		for _, v := range vals {
			m.SupportedMessages = append(m.SupportedMessages, MsgType(v))
		}
	case OptSupportedOptions:
		vals, err := decodeU16Array(o.value)
		if err != nil {
			return err
		}
		m.SupportedOptions = m.SupportedOptions[:0]
		for _, v := range vals {
			m.SupportedOptions = append(m.SupportedOptions, OptionType(v))
		}
	case OptReplyErrorCode:
		v, err := decodeU16(o.value)
		if err != nil {
			return err
		}
		m.ReplyErrorCode, m.ReplyErrorCodeSet = ReplyErrorCode(v), true
	case OptServerMaximumRequestSize:
		v, err := decodeU32(o.value)
		if err != nil {
			return err
		}
		m.ServerMaximumRequestSize, m.ServerMaximumRequestSizeSet = v, true
	case OptServerMaximumReplySize:
		v, err := decodeU32(o.value)
		if err != nil {
			return err
		}
		m.ServerMaximumReplySize, m.ServerMaximumReplySizeSet = v, true
	case OptNodeID:
		v, err := decodeU32(o.value)
		if err != nil {
			return err
		}
		m.NodeID, m.NodeIDSet = v, true
	case OptSupportedDecisionAlgorithms:
		if len(o.value)%1 != 0 {
			return ErrInvalidOptionLength
		}
		m.SupportedDecisionAlgorithms = m.SupportedDecisionAlgorithms[:0]
		for _, b := range o.value {
			m.SupportedDecisionAlgorithms = append(m.SupportedDecisionAlgorithms, DecisionAlgorithm(b))
		}
	case OptDecisionAlgorithm:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(AlgorithmLMS) {
			return ErrInvalidOptionValue
		}
		m.DecisionAlgorithm, m.DecisionAlgorithmSet = DecisionAlgorithm(v), true
	case OptHeartbeatInterval:
		v, err := decodeU32(o.value)
		if err != nil {
			return err
		}
		m.HeartbeatInterval, m.HeartbeatIntervalSet = v, true
	case OptRingID:
		v, err := decodeRingID(o.value)
		if err != nil {
			return err
		}
		m.RingID, m.RingIDSet = v, true
	case OptConfigVersion:
		if len(o.value) != 8 {
			return ErrInvalidOptionLength
		}
		var v uint64
		for _, b := range o.value {
			v = v<<8 | uint64(b)
		}
		m.ConfigVersion, m.ConfigVersionSet = v, true
	case OptNodeInfo:
		n, err := decodeNodeInfo(o.value)
		if err != nil {
			return err
		}
		m.Nodes = append(m.Nodes, n)
	case OptNodeListType:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(NodeListQuorum) {
			return ErrInvalidOptionValue
		}
		m.NodeListType, m.NodeListTypeSet = NodeListType(v), true
	case OptVote:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(VoteNoChange) {
			return ErrInvalidOptionValue
		}
		m.Vote, m.VoteSet = Vote(v), true
	case OptQuorate:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(IsQuorate) {
			return ErrInvalidOptionValue
		}
		m.Quorate, m.QuorateSet = Quorate(v), true
	case OptTieBreaker:
		v, err := decodeTieBreaker(o.value)
		if err != nil {
			return err
		}
		m.TieBreaker, m.TieBreakerSet = v, true
	case OptHeuristics:
		v, err := decodeU8(o.value)
		if err != nil {
			return err
		}
		if v > uint8(HeuristicsFail) {
			return ErrInvalidOptionValue
		}
		m.Heuristics = HeuristicsResult(v)
	default:
		// Unknown option types are accepted and ignored for forward
		// compatibility.
	}
	return nil
}

// msgTypesToU16 and optTypesToU16 are small helpers for building
// SupportedMessages/SupportedOptions options.
func msgTypesToU16(types []MsgType) []uint16 {
	out := make([]uint16, len(types))
	for i, t := range types {
		out[i] = uint16(t)
	}
	return out
}

func optTypesToU16(types []OptionType) []uint16 {
	out := make([]uint16, len(types))
	for i, t := range types {
		out[i] = uint16(t)
	}
	return out
}
