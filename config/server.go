package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/qnetd/wire"
)

// Server config errors, matching spec.md §6's CLI surface.
var (
	ErrInvalidAddressFamily   = errors.New("qnetd: address family must be ipv4, ipv6, or unspecified")
	ErrInvalidPort            = errors.New("qnetd: port must be between 1 and 65535")
	ErrInvalidMaxClients      = errors.New("qnetd: max clients must be >= 0 (0 == unlimited)")
	ErrInvalidTLSMode         = errors.New("qnetd: tls mode must be on, off, or req")
	ErrInvalidHeartbeatBounds = errors.New("qnetd: heartbeat_interval_min must be <= heartbeat_interval_max")
	ErrInvalidListenBacklog   = errors.New("qnetd: listen_backlog must be >= 1")
	ErrInvalidSendBufferCount = errors.New("qnetd: max_client_send_buffers must be >= 1")
	ErrInvalidReceiveSize     = errors.New("qnetd: max_client_receive_size must be >= header size")
	ErrInvalidAdvancedSetting = errors.New("qnetd: unrecognized advanced setting key")
)

// AddressFamily selects the -4/-6 CLI flag, defaulting to "either".
type AddressFamily uint8

const (
	AddressFamilyAny AddressFamily = iota
	AddressFamilyIPv4
	AddressFamilyIPv6
)

// TLSMode mirrors the -s CLI flag's three-way setting.
type TLSMode uint8

const (
	TLSModeOff TLSMode = iota
	TLSModeOn
	TLSModeRequired
)

func (m TLSMode) ToWire() wire.TLSSupported {
	switch m {
	case TLSModeOff:
		return wire.TLSUnsupported
	case TLSModeRequired:
		return wire.TLSRequired
	default:
		return wire.TLSSupportedOpt
	}
}

// ServerConfig bundles every -flag and advanced setting named in spec.md
// §6, grounded on the teacher's flat-struct-plus-Validate idiom
// (config.Parameters / config.Parameters.Valid()).
type ServerConfig struct {
	AddressFamily      AddressFamily
	DebugLevel         int // -d, repeatable
	Foreground         bool
	ClientCertRequired bool
	ListenAddress      string
	MaxClients         int // 0 == unlimited
	Port               uint16
	TLS                TLSMode

	// Advanced settings (-S k=v,...)
	HeartbeatIntervalMin time.Duration
	HeartbeatIntervalMax time.Duration
	DPDEnabled           bool
	DPDInterval          time.Duration
	ListenBacklog        int
	MaxClientSendBuffers int
	MaxClientSendSize    int
	MaxClientReceiveSize int
	NSSDBDir             string
	CertNickname         string
	LockFile             string
	LocalSocketFile      string
	IPCMaxClients        int
	IPCMaxReceiveSize    int
	IPCMaxSendSize       int
}

// DefaultServerConfig matches corosync-qnetd's compiled-in defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:                 5403,
		ListenAddress:        "",
		TLS:                  TLSModeOn,
		HeartbeatIntervalMin: 15 * time.Second,
		HeartbeatIntervalMax: 2*time.Minute + 30*time.Second,
		DPDEnabled:           true,
		DPDInterval:          1 * time.Second,
		ListenBacklog:        10,
		MaxClientSendBuffers: 32,
		MaxClientSendSize:    32768,
		MaxClientReceiveSize: 32768,
		LockFile:             "/run/corosync-qnetd/corosync-qnetd.pid",
		LocalSocketFile:      "/run/corosync-qnetd/corosync-qnetd.sock",
		IPCMaxClients:        10,
		IPCMaxReceiveSize:    32768,
		IPCMaxSendSize:       32768,
	}
}

// Validate checks every field against the invariants spec.md §6/§8 imply
// (size/timing bounds, enum ranges). It returns the first violation found.
func (c ServerConfig) Validate() error {
	if c.AddressFamily != AddressFamilyAny && c.AddressFamily != AddressFamilyIPv4 && c.AddressFamily != AddressFamilyIPv6 {
		return ErrInvalidAddressFamily
	}
	if c.Port == 0 {
		return ErrInvalidPort
	}
	if c.MaxClients < 0 {
		return ErrInvalidMaxClients
	}
	if c.TLS != TLSModeOff && c.TLS != TLSModeOn && c.TLS != TLSModeRequired {
		return ErrInvalidTLSMode
	}
	if c.HeartbeatIntervalMin > c.HeartbeatIntervalMax {
		return ErrInvalidHeartbeatBounds
	}
	if c.ListenBacklog < 1 {
		return ErrInvalidListenBacklog
	}
	if c.MaxClientSendBuffers < 1 {
		return ErrInvalidSendBufferCount
	}
	if c.MaxClientReceiveSize < 6 {
		return ErrInvalidReceiveSize
	}
	return nil
}

// ApplyAdvancedSetting parses one "-S key=value" pair into the matching
// field, returning ErrInvalidAdvancedSetting for unrecognized keys.
func (c *ServerConfig) ApplyAdvancedSetting(key, value string) error {
	switch key {
	case "heartbeat_interval_min":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.HeartbeatIntervalMin = d
	case "heartbeat_interval_max":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.HeartbeatIntervalMax = d
	case "dpd_enabled":
		c.DPDEnabled = value == "on" || value == "true"
	case "dpd_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.DPDInterval = d
	case "listen_backlog":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.ListenBacklog = n
	case "max_client_send_buffers":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.MaxClientSendBuffers = n
	case "max_client_send_size":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.MaxClientSendSize = n
	case "max_client_receive_size":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.MaxClientReceiveSize = n
	case "nss_db_dir":
		c.NSSDBDir = value
	case "cert_nickname":
		c.CertNickname = value
	case "lock_file":
		c.LockFile = value
	case "local_socket_file":
		c.LocalSocketFile = value
	case "ipc_max_clients":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.IPCMaxClients = n
	case "ipc_max_receive_size":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.IPCMaxReceiveSize = n
	case "ipc_max_send_size":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("qnetd: %s: %w", key, err)
		}
		c.IPCMaxSendSize = n
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAdvancedSetting, key)
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("value must be >= 0, got %d", n)
	}
	return n, nil
}
