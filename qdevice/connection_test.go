package qdevice

import (
	"testing"

	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		NodeID:         1,
		ClusterName:    "mycluster",
		RingID:         wire.RingID{NodeID: 1, Seq: 1},
		TieBreaker:     wire.TieBreaker{Mode: wire.TieBreakerLowest},
		Algorithm:      wire.AlgorithmFFSplit,
		MinSendSize:    1024,
		MaxReceiveSize: 1024,
		TLSMode:        wire.TLSUnsupported,
	}
}

func TestConnectionHandshakeWithoutTLS(t *testing.T) {
	c := NewConnection(testParams())
	c.BuildPreinit()
	require.Equal(t, StateWaitingPreinitReply, c.State())

	msg, err := c.HandlePreinitReply(1, wire.TLSUnsupported)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, StateWaitingInitReply, c.State())

	c.BuildInit(nil, nil)
	require.Equal(t, StateWaitingInitReply, c.State())

	err = c.HandleInitReply(&wire.DecodedMessage{
		ReplyErrorCode:              wire.ErrNoError,
		ServerMaximumReplySize:      2048,
		ServerMaximumRequestSize:    2048,
		SupportedDecisionAlgorithms: []wire.DecisionAlgorithm{wire.AlgorithmFFSplit},
	})
	require.NoError(t, err)

	c.BuildSetOption(1000, testParams().TieBreaker)
	c.EnterSteadyState()
	require.Equal(t, StateWaitingVotequorumCmapEvents, c.State())
}

func TestConnectionIncompatibleTLSRejected(t *testing.T) {
	p := testParams()
	p.TLSMode = wire.TLSRequired
	c := NewConnection(p)
	c.BuildPreinit()

	_, err := c.HandlePreinitReply(1, wire.TLSUnsupported)
	require.ErrorIs(t, err, ErrIncompatibleTLS)
}

func TestConnectionStartTLSRequestedOnSupportedIntersection(t *testing.T) {
	p := testParams()
	p.TLSMode = wire.TLSRequired
	c := NewConnection(p)
	c.BuildPreinit()

	msg, err := c.HandlePreinitReply(1, wire.TLSRequired)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, StateWaitingStarttlsBeingSent, c.State())
}

func TestConnectionRejectsMismatchedSeq(t *testing.T) {
	c := NewConnection(testParams())
	c.BuildPreinit()

	_, err := c.HandlePreinitReply(99, wire.TLSUnsupported)
	require.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestConnectionInitReplyRejectsSmallServerBounds(t *testing.T) {
	c := NewConnection(testParams())
	c.BuildPreinit()
	_, _ = c.HandlePreinitReply(1, wire.TLSUnsupported)
	c.BuildInit(nil, nil)

	err := c.HandleInitReply(&wire.DecodedMessage{
		ReplyErrorCode:              wire.ErrNoError,
		ServerMaximumReplySize:      10,
		ServerMaximumRequestSize:    10,
		SupportedDecisionAlgorithms: []wire.DecisionAlgorithm{wire.AlgorithmFFSplit},
	})
	require.Error(t, err)
}

func TestConnectionInitReplyRejectsUnsupportedAlgorithm(t *testing.T) {
	c := NewConnection(testParams())
	c.BuildPreinit()
	_, _ = c.HandlePreinitReply(1, wire.TLSUnsupported)
	c.BuildInit(nil, nil)

	err := c.HandleInitReply(&wire.DecodedMessage{
		ReplyErrorCode:              wire.ErrNoError,
		ServerMaximumReplySize:      2048,
		ServerMaximumRequestSize:    2048,
		SupportedDecisionAlgorithms: []wire.DecisionAlgorithm{wire.AlgorithmLMS},
	})
	require.Error(t, err)
}

func TestConnectionInitReplyErrorCodePropagated(t *testing.T) {
	c := NewConnection(testParams())
	c.BuildPreinit()
	_, _ = c.HandlePreinitReply(1, wire.TLSUnsupported)
	c.BuildInit(nil, nil)

	err := c.HandleInitReply(&wire.DecodedMessage{ReplyErrorCode: wire.ErrDuplicateNodeID})
	require.Error(t, err)
	var rejected *ErrInitRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, wire.ErrDuplicateNodeID, rejected.Code)
}
