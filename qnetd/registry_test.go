package qnetd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/qnetd/wire"
)

func newTestClient(nodeID uint32, tb wire.TieBreaker, alg wire.DecisionAlgorithm) *Client {
	return &Client{nodeID: nodeID, tieBreaker: tb, algorithm: alg, connected: true}
}

func TestJoinCreatesClusterOnFirstClient(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)

	require.NoError(t, r.Join("mycluster", c))
	cluster, ok := r.Cluster("mycluster")
	require.True(t, ok)
	require.Equal(t, 1, cluster.Size())
}

func TestJoinRejectsTieBreakerMismatch(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	b := newTestClient(2, wire.TieBreaker{Mode: wire.TieBreakerHighest}, wire.AlgorithmFFSplit)

	require.NoError(t, r.Join("c1", a))
	err := r.Join("c1", b)
	require.ErrorIs(t, err, ErrTieBreakerDiffers)
	require.Equal(t, wire.ErrTieBreakerDiffersFromOtherNodes, ErrorCode(err))
}

func TestJoinRejectsAlgorithmMismatch(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	b := newTestClient(2, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmLMS)

	require.NoError(t, r.Join("c1", a))
	err := r.Join("c1", b)
	require.ErrorIs(t, err, ErrAlgorithmDiffers)
}

func TestJoinRejectsDuplicateNodeID(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	b := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)

	require.NoError(t, r.Join("c1", a))
	err := r.Join("c1", b)
	require.ErrorIs(t, err, ErrDuplicateNodeID)
}

func TestLeaveDestroysClusterOnLastClient(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	require.NoError(t, r.Join("c1", a))

	r.Leave(a)
	_, ok := r.Cluster("c1")
	require.False(t, ok)
}

func TestLeaveKeepsClusterWhileOtherClientsRemain(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(1, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	b := newTestClient(2, wire.TieBreaker{Mode: wire.TieBreakerLowest}, wire.AlgorithmFFSplit)
	require.NoError(t, r.Join("c1", a))
	require.NoError(t, r.Join("c1", b))

	r.Leave(a)
	cluster, ok := r.Cluster("c1")
	require.True(t, ok)
	require.Equal(t, 1, cluster.Size())
	require.Nil(t, cluster.FindByNodeID(1))
	require.NotNil(t, cluster.FindByNodeID(2))
}
