package config

import (
	"errors"
	"time"

	"github.com/luxfi/qnetd/wire"
)

// Client config errors, matching spec.md §6's "Client configuration" list.
var (
	ErrDeviceModelNotNet  = errors.New("qdevice: quorum.device.model must be \"net\"")
	ErrInvalidDeviceHost  = errors.New("qdevice: quorum.device.net.host must not be empty")
	ErrInvalidTimeout     = errors.New("qdevice: quorum.device.timeout must be > 0")
	ErrInvalidAlgorithm   = errors.New("qdevice: quorum.device.net.algorithm must be test, ffsplit, 2nodelms, or lms")
	ErrInvalidIPVersion   = errors.New("qdevice: quorum.device.net.force_ip_version must be 0, 4, or 6")
	ErrInvalidClusterName = errors.New("qdevice: totem.cluster_name must not be empty")
	ErrInvalidNodeID      = errors.New("qdevice: runtime.votequorum.this_node_id must be > 0")
)

// Store is the flat key-value configuration lookup this package reads
// from, standing in for corosync's objdb/cmap API (spec.md §6 "read from
// the cluster's configuration store at startup").
type Store interface {
	Get(key string) (string, bool)
}

// ClientConfig bundles the `quorum.device.*`/`totem.*`/`runtime.*` keys
// spec.md §6 lists, resolved once at startup.
type ClientConfig struct {
	DeviceTimeout     time.Duration
	DeviceSyncTimeout time.Duration
	Host              string
	Port              uint16
	TLS               TLSMode
	Algorithm         wire.DecisionAlgorithm
	TieBreaker        wire.TieBreaker
	ConnectTimeout    time.Duration
	ForceIPVersion    AddressFamily
	ClusterName       string
	NodeID            uint32

	// WaitForAll mirrors corosync's quorum.wait_for_all: when set, the lms
	// algorithm's echo-missed hook keeps asserting a previously granted
	// Ack after losing the server instead of requesting disconnect
	// (spec.md §4.6, scenario S7).
	WaitForAll bool

	// TLSCABundle and TLSCertNickname are not in spec.md §6's named key
	// list (the source resolves TLS material through NSS's db-dir
	// convention rather than a cmap key), but a CA bundle path is needed
	// to build a *tls.Config when TLS != off; read from an advanced-style
	// key rather than invented out of nothing.
	TLSCABundle     string
	TLSCertNickname string
}

// HeartbeatInterval derives the steady-state heartbeat cadence from the
// configured device timeout, clamped to [min, max], per spec.md §6.
func (c ClientConfig) HeartbeatInterval(min, max time.Duration) time.Duration {
	hb := time.Duration(float64(c.DeviceTimeout) * 0.8)
	if hb < min {
		return min
	}
	if hb > max {
		return max
	}
	return hb
}

// CastVoteInterval derives the cast-vote timer cadence, per spec.md §6.
func (c ClientConfig) CastVoteInterval() time.Duration {
	return time.Duration(float64(c.DeviceTimeout) * 0.5)
}

// Validate checks every field against spec.md §6/§8's invariants.
func (c ClientConfig) Validate() error {
	if c.DeviceTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Host == "" {
		return ErrInvalidDeviceHost
	}
	if c.Port == 0 {
		return ErrInvalidPort
	}
	switch c.Algorithm {
	case wire.AlgorithmTest, wire.AlgorithmFFSplit, wire.Algorithm2NodeLMS, wire.AlgorithmLMS:
	default:
		return ErrInvalidAlgorithm
	}
	if c.ForceIPVersion != AddressFamilyAny && c.ForceIPVersion != AddressFamilyIPv4 && c.ForceIPVersion != AddressFamilyIPv6 {
		return ErrInvalidIPVersion
	}
	if c.ClusterName == "" {
		return ErrInvalidClusterName
	}
	if c.NodeID == 0 {
		return ErrInvalidNodeID
	}
	return nil
}

// LoadClientConfig resolves a ClientConfig from a Store, applying the
// defaults spec.md §6 implies for optional keys before validating.
func LoadClientConfig(s Store) (ClientConfig, error) {
	var c ClientConfig

	if model, ok := s.Get("quorum.device.model"); !ok || model != "net" {
		return c, ErrDeviceModelNotNet
	}

	c.DeviceTimeout = durationOr(s, "quorum.device.timeout", 10*time.Second)
	c.DeviceSyncTimeout = durationOr(s, "quorum.device.sync_timeout", 30*time.Second)
	c.Host, _ = s.Get("quorum.device.net.host")
	c.Port = uint16(intOr(s, "quorum.device.net.port", 5403))
	c.TLS = tlsModeOr(s, "quorum.device.net.tls", TLSModeOn)
	c.Algorithm = algorithmOr(s, "quorum.device.net.algorithm", wire.AlgorithmFFSplit)
	c.TieBreaker = tieBreakerOr(s, "quorum.device.net.tie_breaker")
	c.ConnectTimeout = durationOr(s, "quorum.device.net.connect_timeout", 10*time.Second)
	c.ForceIPVersion = ipVersionOr(s, "quorum.device.net.force_ip_version", AddressFamilyAny)
	c.ClusterName, _ = s.Get("totem.cluster_name")
	c.NodeID = uint32(intOr(s, "runtime.votequorum.this_node_id", 0))
	c.TLSCABundle, _ = s.Get("quorum.device.net.tls_ca_bundle")
	c.TLSCertNickname, _ = s.Get("quorum.device.net.tls_cert_nickname")
	c.WaitForAll = boolOr(s, "quorum.wait_for_all", false)

	if err := c.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return c, nil
}

func durationOr(s Store, key string, def time.Duration) time.Duration {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolOr(s Store, key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch v {
	case "1", "yes", "on", "true":
		return true
	case "0", "no", "off", "false":
		return false
	default:
		return def
	}
}

func intOr(s Store, key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := parsePositiveInt(v)
	if err != nil {
		return def
	}
	return n
}

func tlsModeOr(s Store, key string, def TLSMode) TLSMode {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch v {
	case "on":
		return TLSModeOn
	case "off":
		return TLSModeOff
	case "required", "req":
		return TLSModeRequired
	default:
		return def
	}
}

func algorithmOr(s Store, key string, def wire.DecisionAlgorithm) wire.DecisionAlgorithm {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch v {
	case "test":
		return wire.AlgorithmTest
	case "ffsplit":
		return wire.AlgorithmFFSplit
	case "2nodelms":
		return wire.Algorithm2NodeLMS
	case "lms":
		return wire.AlgorithmLMS
	default:
		return def
	}
}

func tieBreakerOr(s Store, key string) wire.TieBreaker {
	v, ok := s.Get(key)
	if !ok || v == "lowest" {
		return wire.TieBreaker{Mode: wire.TieBreakerLowest}
	}
	switch v {
	case "highest":
		return wire.TieBreaker{Mode: wire.TieBreakerHighest}
	default:
		if n, err := parsePositiveInt(v); err == nil {
			return wire.TieBreaker{Mode: wire.TieBreakerNodeID, NodeID: uint32(n)}
		}
		return wire.TieBreaker{Mode: wire.TieBreakerLowest}
	}
}

func ipVersionOr(s Store, key string, def AddressFamily) AddressFamily {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch v {
	case "4":
		return AddressFamilyIPv4
	case "6":
		return AddressFamilyIPv6
	case "0":
		return AddressFamilyAny
	default:
		return def
	}
}
