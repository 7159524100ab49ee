package wire

// This file holds one constructor per message type named in spec.md §6,
// mirroring msg_create_* in the original source's msg.c.

// EncodePreinit builds the initial handshake message.
func EncodePreinit(seq uint32, clusterName string) []byte {
	e := NewEncoder(MsgPreinit)
	e.U32(OptMsgSeqNumber, seq)
	e.Str(OptClusterName, clusterName)
	return e.Finish()
}

// EncodePreinitReply builds the server's reply to Preinit.
func EncodePreinitReply(seq uint32, tlsSupported TLSSupported, tlsClientCertRequired bool) []byte {
	e := NewEncoder(MsgPreinitReply)
	e.U32(OptMsgSeqNumber, seq)
	e.U8(OptTLSSupported, uint8(tlsSupported))
	e.Bool(OptTLSClientCertRequired, tlsClientCertRequired)
	return e.Finish()
}

// EncodeStartTLS builds the client's request to upgrade the connection to
// TLS.
func EncodeStartTLS(seq uint32) []byte {
	e := NewEncoder(MsgStartTLS)
	e.U32(OptMsgSeqNumber, seq)
	return e.Finish()
}

// InitParams bundles Init's many fields.
type InitParams struct {
	Seq               uint32
	NodeID            uint32
	RingID            RingID
	HeartbeatInterval uint32
	TieBreaker        TieBreaker
	Algorithm         DecisionAlgorithm
	SupportedMessages []MsgType
	SupportedOptions  []OptionType
}

// EncodeInit builds the client's Init message.
func EncodeInit(p InitParams) []byte {
	e := NewEncoder(MsgInit)
	e.U32(OptMsgSeqNumber, p.Seq)
	e.U32(OptNodeID, p.NodeID)
	e.RingID(OptRingID, p.RingID)
	e.U32(OptHeartbeatInterval, p.HeartbeatInterval)
	e.TieBreaker(OptTieBreaker, p.TieBreaker)
	e.U8(OptDecisionAlgorithm, uint8(p.Algorithm))
	e.U16Array(OptSupportedMessages, msgTypesToU16(p.SupportedMessages))
	e.U16Array(OptSupportedOptions, optTypesToU16(p.SupportedOptions))
	return e.Finish()
}

// EncodeServerError builds a tier-1 recoverable error reply (spec.md §7).
func EncodeServerError(seq uint32, hasSeq bool, code ReplyErrorCode) []byte {
	e := NewEncoder(MsgServerError)
	if hasSeq {
		e.U32(OptMsgSeqNumber, seq)
	}
	e.U16(OptReplyErrorCode, uint16(code))
	return e.Finish()
}

// InitReplyParams bundles InitReply's many fields.
type InitReplyParams struct {
	Seq                         uint32
	ReplyErrorCode              ReplyErrorCode
	SupportedMessages           []MsgType
	SupportedOptions            []OptionType
	ServerMaximumRequestSize    uint32
	ServerMaximumReplySize      uint32
	SupportedDecisionAlgorithms []DecisionAlgorithm
}

// EncodeInitReply builds the server's reply to Init.
func EncodeInitReply(p InitReplyParams) []byte {
	e := NewEncoder(MsgInitReply)
	e.U32(OptMsgSeqNumber, p.Seq)
	e.U16(OptReplyErrorCode, uint16(p.ReplyErrorCode))
	e.U16Array(OptSupportedMessages, msgTypesToU16(p.SupportedMessages))
	e.U16Array(OptSupportedOptions, optTypesToU16(p.SupportedOptions))
	e.U32(OptServerMaximumRequestSize, p.ServerMaximumRequestSize)
	e.U32(OptServerMaximumReplySize, p.ServerMaximumReplySize)
	algos := make([]byte, len(p.SupportedDecisionAlgorithms))
	for i, a := range p.SupportedDecisionAlgorithms {
		algos[i] = byte(a)
	}
	e.header(OptSupportedDecisionAlgorithms, len(algos))
	e.buf = append(e.buf, algos...)
	return e.Finish()
}

// EncodeSetOption builds the client's post-handshake option push.
func EncodeSetOption(seq uint32, heartbeatInterval uint32, tieBreaker TieBreaker) []byte {
	e := NewEncoder(MsgSetOption)
	e.U32(OptMsgSeqNumber, seq)
	e.U32(OptHeartbeatInterval, heartbeatInterval)
	e.TieBreaker(OptTieBreaker, tieBreaker)
	return e.Finish()
}

// EncodeSetOptionReply builds the server's ack of SetOption.
func EncodeSetOptionReply(seq uint32, heartbeatInterval uint32, tieBreaker TieBreaker) []byte {
	e := NewEncoder(MsgSetOptionReply)
	e.U32(OptMsgSeqNumber, seq)
	e.U32(OptHeartbeatInterval, heartbeatInterval)
	e.TieBreaker(OptTieBreaker, tieBreaker)
	return e.Finish()
}

// EncodeEchoRequest builds a dead-peer-detection probe.
func EncodeEchoRequest(seq uint32) []byte {
	e := NewEncoder(MsgEchoRequest)
	e.U32(OptMsgSeqNumber, seq)
	return e.Finish()
}

// NodeListParams bundles NodeList's fields. ConfigVersion is only emitted
// when HasConfigVersion is set (it only applies to config node lists).
type NodeListParams struct {
	Seq              uint32
	ListType         NodeListType
	HasConfigVersion bool
	ConfigVersion    uint64
	RingID           RingID
	HasRingID        bool
	Nodes            []NodeInfo
	Heuristics       HeuristicsResult
	HasHeuristics    bool
}

// EncodeNodeList builds a NodeList message (config/membership/quorum
// depending on ListType).
func EncodeNodeList(p NodeListParams) []byte {
	e := NewEncoder(MsgNodeList)
	e.U32(OptMsgSeqNumber, p.Seq)
	e.U8(OptNodeListType, uint8(p.ListType))
	if p.HasConfigVersion {
		e.U64(OptConfigVersion, p.ConfigVersion)
	}
	if p.HasRingID {
		e.RingID(OptRingID, p.RingID)
	}
	for _, n := range p.Nodes {
		e.NodeInfo(OptNodeInfo, n)
	}
	if p.HasHeuristics {
		e.U8(OptHeuristics, uint8(p.Heuristics))
	}
	return e.Finish()
}

// EncodeNodeListReply builds the server's vote reply to NodeList.
func EncodeNodeListReply(seq uint32, code ReplyErrorCode, listType NodeListType, vote Vote, hasVote bool) []byte {
	e := NewEncoder(MsgNodeListReply)
	e.U32(OptMsgSeqNumber, seq)
	e.U16(OptReplyErrorCode, uint16(code))
	e.U8(OptNodeListType, uint8(listType))
	if hasVote {
		e.U8(OptVote, uint8(vote))
	}
	return e.Finish()
}

// EncodeAskForVote builds the client's explicit vote request.
func EncodeAskForVote(seq uint32) []byte {
	e := NewEncoder(MsgAskForVote)
	e.U32(OptMsgSeqNumber, seq)
	return e.Finish()
}

// EncodeAskForVoteReply builds the server's reply to AskForVote.
func EncodeAskForVoteReply(seq uint32, code ReplyErrorCode, vote Vote, hasVote bool) []byte {
	e := NewEncoder(MsgAskForVoteReply)
	e.U32(OptMsgSeqNumber, seq)
	e.U16(OptReplyErrorCode, uint16(code))
	if hasVote {
		e.U8(OptVote, uint8(vote))
	}
	return e.Finish()
}

// EncodeVoteInfo builds the server's unsolicited vote push (used by the
// ffsplit NACK-then-ACK ordering).
func EncodeVoteInfo(seq uint32, vote Vote, ringID RingID) []byte {
	e := NewEncoder(MsgVoteInfo)
	e.U32(OptMsgSeqNumber, seq)
	e.U8(OptVote, uint8(vote))
	e.RingID(OptRingID, ringID)
	return e.Finish()
}

// EncodeVoteInfoReply builds the client's acknowledgment of VoteInfo.
func EncodeVoteInfoReply(seq uint32) []byte {
	e := NewEncoder(MsgVoteInfoReply)
	e.U32(OptMsgSeqNumber, seq)
	return e.Finish()
}

// EncodeHeuristicsChange builds the client's heuristics result push.
func EncodeHeuristicsChange(seq uint32, h HeuristicsResult) []byte {
	e := NewEncoder(MsgHeuristicsChange)
	e.U32(OptMsgSeqNumber, seq)
	e.U8(OptHeuristics, uint8(h))
	return e.Finish()
}

// EncodeHeuristicsChangeReply builds the server's ack of HeuristicsChange.
func EncodeHeuristicsChangeReply(seq uint32, code ReplyErrorCode, vote Vote, hasVote bool) []byte {
	e := NewEncoder(MsgHeuristicsChangeReply)
	e.U32(OptMsgSeqNumber, seq)
	e.U16(OptReplyErrorCode, uint16(code))
	if hasVote {
		e.U8(OptVote, uint8(vote))
	}
	return e.Finish()
}
