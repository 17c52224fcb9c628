// Package transport resolves spec.md §9's encrypted-transport Open
// Question: an optional stream decorator wrapping a raw net.Conn in TLS
// before framing begins. When no TLS config is supplied, the router runs
// framing directly over the raw connection. Adapted from
// core/security.go's NewTLSConfig, trimmed to the one mode this network
// needs (mutual TLS between statically configured peers).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
)

// NewTLSConfig loads a certificate/key pair and, when requireClientCert is
// set, configures mutual TLS using the same certificate as its own CA pool
// — appropriate for a closed, permissioned peer set where every node's
// certificate is distributed out of band.
func NewTLSConfig(certPath, keyPath string, requireClientCert bool) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:       tls.VersionTLS13,
		Certificates:     []tls.Certificate{cert},
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
	}

	// Every node presents this same certificate, so a dialing node checks the
	// remote side against the certificate's own first DNS name.
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, err
	}
	if len(leaf.DNSNames) > 0 {
		cfg.ServerName = leaf.DNSNames[0]
	}

	if requireClientCert {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certPEM) {
			return nil, errors.New("transport: failed to append cert to pool")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// TLSDialer implements router.TransportDialer by running every accepted or
// dialed connection through a TLS handshake before framing begins.
type TLSDialer struct {
	Config *tls.Config
}

// DialDecorate performs the client side of the TLS handshake over conn.
func (d TLSDialer) DialDecorate(conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Client(conn, d.Config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// AcceptDecorate performs the server side of the TLS handshake over conn.
func (d TLSDialer) AcceptDecorate(conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Server(conn, d.Config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
