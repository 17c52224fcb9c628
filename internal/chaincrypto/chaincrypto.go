// Package chaincrypto wraps the Ed25519 key generation and sign/verify pair
// the node layer depends on, plus hex encoding of public keys. The 32-byte
// content hashes live in package model. Mirrors the Sign/Verify split of
// core/security.go in the teacher pack, trimmed to the single algorithm
// this network's data model uses.
package chaincrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"horde/internal/model"
)

// GenerateKeyPair creates a new Ed25519 key pair.
func GenerateKeyPair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs msg with priv, returning the fixed 64-byte signature.
func Sign(priv ed25519.PrivateKey, msg []byte) (model.Sig64, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return model.Sig64{}, errors.New("chaincrypto: invalid private key size")
	}
	sig := ed25519.Sign(priv, msg)
	var out model.Sig64
	copy(out[:], sig)
	return out, nil
}

// Verify checks sig against msg under pub.
func Verify(pub ed25519.PublicKey, msg []byte, sig model.Sig64) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig[:])
}

// EncodePublicKey renders pub as the hex text stored in a <id>.pub.key file.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// DecodePublicKey parses the hex text stored in a <id>.pub.key file.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("chaincrypto: invalid public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("chaincrypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
