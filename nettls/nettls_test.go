package nettls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// generateSelfSigned writes a PEM cert+key pair named after nickname into
// dir, returning the cert's PEM bytes for use as a CA bundle too.
func generateSelfSigned(t *testing.T, dir, nickname string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: nickname},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	require.NoError(t, os.WriteFile(filepath.Join(dir, nickname+".crt"), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, nickname+".key"), keyPEM, 0o600))
	return certPEM
}

func TestServerTLSConfigLoadsCertByNickname(t *testing.T) {
	dir := t.TempDir()
	generateSelfSigned(t, dir, "qnetd")

	cfg, err := ServerTLSConfig(Config{DBDir: dir, CertNickname: "qnetd"})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Nil(t, cfg.ClientCAs)
}

func TestServerTLSConfigRequiresClientCertWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	generateSelfSigned(t, dir, "qnetd")
	caPEM := generateSelfSigned(t, dir, "ca")
	caPath := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caPath, caPEM, 0o600))

	cfg, err := ServerTLSConfig(Config{
		DBDir:            dir,
		CertNickname:     "qnetd",
		ClientCARequired: true,
		CABundle:         caPath,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.ClientCAs)
	require.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

func TestClientTLSConfigLoadsCABundleAndServerName(t *testing.T) {
	dir := t.TempDir()
	caPEM := generateSelfSigned(t, dir, "ca")
	caPath := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caPath, caPEM, 0o600))

	cfg, err := ClientTLSConfig(Config{DBDir: dir, CABundle: caPath}, "qnetd.example.com")
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	require.Equal(t, "qnetd.example.com", cfg.ServerName)
	require.Empty(t, cfg.Certificates)
}

func TestServerTLSConfigMissingCertFails(t *testing.T) {
	dir := t.TempDir()
	_, err := ServerTLSConfig(Config{DBDir: dir, CertNickname: "missing"})
	require.Error(t, err)
}
