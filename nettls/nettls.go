// Package nettls provides the TLS dial/listen helpers that replace
// corosync-qnetd/qdevice-net's NSS dependency, per spec.md's shared-
// resource policy: "NSS/TLS state is per-connection; a single library
// init is performed at process start".
//
// There is no library in the example corpus that wraps NSS-style
// certificate-nickname lookup for Go — crypto/tls's PEM-based API is the
// idiomatic replacement, so this package is std-lib-only by design
// (recorded in DESIGN.md).
package nettls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Config bundles the file-based inputs a cert_nickname/nss_db_dir pair
// resolves to once ported off NSS: a PEM certificate+key pair named
// after the nickname, plus an optional CA bundle for peer verification.
type Config struct {
	// DBDir is the directory nss_db_dir pointed at; certificates are
	// looked up as "<dbdir>/<nickname>.crt" and "<dbdir>/<nickname>.key".
	DBDir string
	// CertNickname selects which cert/key pair under DBDir to load.
	CertNickname string
	// ClientCARequired mirrors the server's -c flag: when true, incoming
	// client certificates are verified against CABundle.
	ClientCARequired bool
	// CABundle is the path of a PEM file of trust anchors used to verify
	// peer certificates (server verifying clients, client verifying server).
	CABundle string
}

func (c Config) certPaths() (certPath, keyPath string) {
	return filepath.Join(c.DBDir, c.CertNickname+".crt"), filepath.Join(c.DBDir, c.CertNickname+".key")
}

func loadCAPool(caBundle string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caBundle)
	if err != nil {
		return nil, fmt.Errorf("nettls: reading ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("nettls: no certificates parsed from %s", caBundle)
	}
	return pool, nil
}

// ServerTLSConfig builds the *tls.Config a listener upgrades connections
// with after STARTTLS, matching qnetd's per-connection NSS handshake
// setup. When ClientCARequired is set, it enforces mutual TLS.
func ServerTLSConfig(c Config) (*tls.Config, error) {
	certPath, keyPath := c.certPaths()
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("nettls: loading server cert %s: %w", c.CertNickname, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCARequired {
		pool, err := loadCAPool(c.CABundle)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// ClientTLSConfig builds the *tls.Config a qdevice-net connection upgrades
// with, verifying the server's certificate against CABundle and
// presenting its own cert/key pair (used when the server requires client
// certs).
func ClientTLSConfig(c Config, serverName string) (*tls.Config, error) {
	pool, err := loadCAPool(c.CABundle)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if c.CertNickname != "" {
		certPath, keyPath := c.certPaths()
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("nettls: loading client cert %s: %w", c.CertNickname, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Upgrade wraps an already-connected net.Conn in TLS using cfg as the
// server side, matching STARTTLS's "upgrade in place" semantics (spec.md
// §4.3 step 3/4): the plaintext handshake bytes already exchanged are
// left untouched, and every subsequent read/write goes through the
// returned *tls.Conn.
func Upgrade(conn net.Conn, cfg *tls.Config) *tls.Conn {
	return tls.Server(conn, cfg)
}

// UpgradeClient is Upgrade's client-side counterpart.
func UpgradeClient(conn net.Conn, cfg *tls.Config) *tls.Conn {
	return tls.Client(conn, cfg)
}

// Listen opens a plain TCP listener on addr; the STARTTLS upgrade happens
// per-connection via Upgrade once negotiated, rather than at accept time,
// matching qnetd's design of accepting plaintext first.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// DialContext opens a plain TCP connection to addr; TLS is layered on
// afterward via UpgradeClient once the STARTTLS handshake completes.
func DialContext(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
