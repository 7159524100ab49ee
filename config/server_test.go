package config

import (
	"testing"
	"time"

	"github.com/luxfi/qnetd/wire"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfigValidates(t *testing.T) {
	require.NoError(t, DefaultServerConfig().Validate())
}

func TestServerConfigRejectsZeroPort(t *testing.T) {
	c := DefaultServerConfig()
	c.Port = 0
	require.ErrorIs(t, c.Validate(), ErrInvalidPort)
}

func TestServerConfigRejectsInvertedHeartbeatBounds(t *testing.T) {
	c := DefaultServerConfig()
	c.HeartbeatIntervalMin, c.HeartbeatIntervalMax = c.HeartbeatIntervalMax, c.HeartbeatIntervalMin
	require.ErrorIs(t, c.Validate(), ErrInvalidHeartbeatBounds)
}

func TestServerConfigRejectsNegativeMaxClients(t *testing.T) {
	c := DefaultServerConfig()
	c.MaxClients = -1
	require.ErrorIs(t, c.Validate(), ErrInvalidMaxClients)
}

func TestApplyAdvancedSettingParsesKnownKeys(t *testing.T) {
	c := DefaultServerConfig()
	require.NoError(t, c.ApplyAdvancedSetting("dpd_interval", "2s"))
	require.Equal(t, 2*time.Second, c.DPDInterval)

	require.NoError(t, c.ApplyAdvancedSetting("max_client_send_buffers", "64"))
	require.Equal(t, 64, c.MaxClientSendBuffers)
}

func TestApplyAdvancedSettingRejectsUnknownKey(t *testing.T) {
	c := DefaultServerConfig()
	err := c.ApplyAdvancedSetting("bogus_key", "1")
	require.ErrorIs(t, err, ErrInvalidAdvancedSetting)
}

func TestTLSModeToWire(t *testing.T) {
	require.Equal(t, wire.TLSUnsupported, TLSModeOff.ToWire())
	require.Equal(t, wire.TLSRequired, TLSModeRequired.ToWire())
	require.Equal(t, wire.TLSSupportedOpt, TLSModeOn.ToWire())
}
