package config

import (
	"testing"
	"time"

	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

type mapStore map[string]string

func (m mapStore) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func validClientStore() mapStore {
	return mapStore{
		"quorum.device.model":            "net",
		"quorum.device.timeout":           "10s",
		"quorum.device.net.host":          "qnetd.example.com",
		"quorum.device.net.port":          "5403",
		"quorum.device.net.tls":           "on",
		"quorum.device.net.algorithm":     "ffsplit",
		"quorum.device.net.tie_breaker":   "lowest",
		"totem.cluster_name":              "mycluster",
		"runtime.votequorum.this_node_id": "1",
	}
}

func TestLoadClientConfigSuccess(t *testing.T) {
	c, err := LoadClientConfig(validClientStore())
	require.NoError(t, err)
	require.Equal(t, "qnetd.example.com", c.Host)
	require.Equal(t, uint16(5403), c.Port)
	require.Equal(t, wire.AlgorithmFFSplit, c.Algorithm)
	require.Equal(t, wire.TieBreaker{Mode: wire.TieBreakerLowest}, c.TieBreaker)
}

func TestLoadClientConfigRejectsNonNetModel(t *testing.T) {
	s := validClientStore()
	s["quorum.device.model"] = "heuristics_only"
	_, err := LoadClientConfig(s)
	require.ErrorIs(t, err, ErrDeviceModelNotNet)
}

func TestLoadClientConfigRejectsMissingNodeID(t *testing.T) {
	s := validClientStore()
	delete(s, "runtime.votequorum.this_node_id")
	_, err := LoadClientConfig(s)
	require.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestLoadClientConfigParsesNumericTieBreaker(t *testing.T) {
	s := validClientStore()
	s["quorum.device.net.tie_breaker"] = "3"
	c, err := LoadClientConfig(s)
	require.NoError(t, err)
	require.Equal(t, wire.TieBreaker{Mode: wire.TieBreakerNodeID, NodeID: 3}, c.TieBreaker)
}

func TestLoadClientConfigDefaultsWaitForAllToFalse(t *testing.T) {
	c, err := LoadClientConfig(validClientStore())
	require.NoError(t, err)
	require.False(t, c.WaitForAll)
}

func TestLoadClientConfigParsesWaitForAll(t *testing.T) {
	s := validClientStore()
	s["quorum.wait_for_all"] = "yes"
	c, err := LoadClientConfig(s)
	require.NoError(t, err)
	require.True(t, c.WaitForAll)
}

func TestHeartbeatIntervalClampsToBounds(t *testing.T) {
	cc := ClientConfig{DeviceTimeout: 10 * time.Second}
	got := cc.HeartbeatInterval(1*time.Second, 5*time.Second)
	require.Equal(t, 5*time.Second, got)
}

func TestCastVoteIntervalIsHalfDeviceTimeout(t *testing.T) {
	cc := ClientConfig{DeviceTimeout: 10 * time.Second}
	require.Equal(t, 5*time.Second, cc.CastVoteInterval())
}
