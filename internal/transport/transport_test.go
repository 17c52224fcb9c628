package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "horde-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	certPath = filepath.Join(dir, "node.crt")
	keyPath = filepath.Join(dir, "node.key")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	certOut.Close()

	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	keyOut.Close()
	return certPath, keyPath
}

func TestTLSDialerHandshakeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	serverCfg, err := NewTLSConfig(certPath, keyPath, true)
	if err != nil {
		t.Fatalf("NewTLSConfig server: %v", err)
	}
	clientCfg, err := NewTLSConfig(certPath, keyPath, true)
	if err != nil {
		t.Fatalf("NewTLSConfig client: %v", err)
	}

	clientRaw, serverRaw := net.Pipe()
	serverDialer := TLSDialer{Config: serverCfg}
	clientDialer := TLSDialer{Config: clientCfg}

	done := make(chan error, 1)
	go func() {
		_, err := serverDialer.AcceptDecorate(serverRaw)
		done <- err
	}()

	clientConn, err := clientDialer.DialDecorate(clientRaw)
	if err != nil {
		t.Fatalf("DialDecorate: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("AcceptDecorate: %v", err)
	}
	clientConn.Close()
}
