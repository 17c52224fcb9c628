// Package keystore loads and saves the Ed25519 key material described in
// spec.md §6: one private key per node under its own root directory, one
// public key per node under a directory shared by the whole network,
// filename "<id>.pub.key". Modeled on node/peer.go's per-peer directory
// layout in the teacher pack, trimmed to Ed25519 only.
package keystore

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"horde/internal/chaincrypto"
)

const (
	privateKeyFile = "key.pem"
	pemBlockType   = "HORDE ED25519 PRIVATE KEY"
)

// KeyStore resolves public keys for any peer id by reading
// "<publicDir>/<id>.pub.key", caching what it has read.
type KeyStore struct {
	publicDir string

	mu    sync.RWMutex
	cache map[string]ed25519.PublicKey
}

// Open returns a KeyStore backed by publicDir, which must already exist.
func Open(publicDir string) *KeyStore {
	return &KeyStore{publicDir: publicDir, cache: make(map[string]ed25519.PublicKey)}
}

// PublicKey returns the public key registered for peer id, reading it from
// disk on first use.
func (ks *KeyStore) PublicKey(id string) (ed25519.PublicKey, error) {
	ks.mu.RLock()
	if pub, ok := ks.cache[id]; ok {
		ks.mu.RUnlock()
		return pub, nil
	}
	ks.mu.RUnlock()

	path := filepath.Join(ks.publicDir, id+".pub.key")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read public key for %q: %w", id, err)
	}
	pub, err := chaincrypto.DecodePublicKey(string(raw))
	if err != nil {
		return nil, fmt.Errorf("keystore: decode public key for %q: %w", id, err)
	}
	ks.mu.Lock()
	ks.cache[id] = pub
	ks.mu.Unlock()
	return pub, nil
}

// PublishPublicKey writes "<publicDir>/<id>.pub.key" so peers can later
// resolve it via PublicKey.
func PublishPublicKey(publicDir, id string, pub ed25519.PublicKey) error {
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		return fmt.Errorf("keystore: create public dir: %w", err)
	}
	path := filepath.Join(publicDir, id+".pub.key")
	return os.WriteFile(path, []byte(chaincrypto.EncodePublicKey(pub)), 0o644)
}

// SavePrivateKey writes priv as a PEM block under nodeDir/key.pem.
func SavePrivateKey(nodeDir string, priv ed25519.PrivateKey) error {
	if err := os.MkdirAll(nodeDir, 0o700); err != nil {
		return fmt.Errorf("keystore: create node dir: %w", err)
	}
	block := &pem.Block{Type: pemBlockType, Bytes: priv}
	path := filepath.Join(nodeDir, privateKeyFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("keystore: open private key file: %w", err)
	}
	defer f.Close()
	return pem.Encode(f, block)
}

// LoadPrivateKey reads nodeDir/key.pem written by SavePrivateKey.
func LoadPrivateKey(nodeDir string) (ed25519.PrivateKey, error) {
	path := filepath.Join(nodeDir, privateKeyFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return nil, fmt.Errorf("keystore: %s is not a valid private key file", path)
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: private key has wrong size %d", len(block.Bytes))
	}
	return ed25519.PrivateKey(block.Bytes), nil
}
