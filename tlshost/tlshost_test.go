package tlshost

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

// writeSelfSignedCert generates an ephemeral self-signed cert/key pair for
// commonName and writes both as PEM files under dir, returning their paths.
func writeSelfSignedCert(t *testing.T, dir, commonName string) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPath = filepath.Join(dir, commonName+".crt")
	keyPath = filepath.Join(dir, commonName+".key")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestGetCertificate_ExactMatch(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver()

	certA, keyA := writeSelfSignedCert(t, dir, "a.example.com")
	certB, keyB := writeSelfSignedCert(t, dir, "b.example.com")
	require.NoError(t, r.Add("a.example.com", certA, keyA))
	require.NoError(t, r.Add("b.example.com", certB, keyB))

	cert, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.example.com"})
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "a.example.com", parsed.Subject.CommonName)
}

func TestGetCertificate_WildcardMatch(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver()

	certPath, keyPath := writeSelfSignedCert(t, dir, "*.example.com")
	require.NoError(t, r.Add("*.example.com", certPath, keyPath))

	cert, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "sub.example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestGetCertificate_NoMatchReturnsError(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver()
	certA, keyA := writeSelfSignedCert(t, dir, "a.example.com")
	certB, keyB := writeSelfSignedCert(t, dir, "b.example.com")
	require.NoError(t, r.Add("a.example.com", certA, keyA))
	require.NoError(t, r.Add("b.example.com", certB, keyB))

	_, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	require.Error(t, err)
}

func TestGetCertificate_SingleHostFallback(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver()
	certPath, keyPath := writeSelfSignedCert(t, dir, "only.example.com")
	require.NoError(t, r.Add("only.example.com", certPath, keyPath))

	cert, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "whatever.other.tld"})
	require.NoError(t, err)
	require.NotNil(t, cert)
}
