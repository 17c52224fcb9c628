package model

import (
	"encoding/hex"
	"fmt"
)

// Hash32 is a 32-byte content hash, encoded on the wire as lowercase hex.
type Hash32 [32]byte

var ZeroHash Hash32

func (h Hash32) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash32) String() string { return h.Hex() }

func (h Hash32) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

func (h *Hash32) UnmarshalJSON(b []byte) error {
	s, err := unquote(b)
	if err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("model: invalid hash hex %q: %w", s, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("model: hash must be 32 bytes, got %d", len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// Sig64 is a 64-byte Ed25519 signature, encoded on the wire as lowercase hex.
type Sig64 [64]byte

func (s Sig64) Hex() string { return hex.EncodeToString(s[:]) }

func (s Sig64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.Hex() + `"`), nil
}

func (s *Sig64) UnmarshalJSON(b []byte) error {
	str, err := unquote(b)
	if err != nil {
		return err
	}
	decoded, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("model: invalid signature hex %q: %w", str, err)
	}
	if len(decoded) != 64 {
		return fmt.Errorf("model: signature must be 64 bytes, got %d", len(decoded))
	}
	copy(s[:], decoded)
	return nil
}

func unquote(b []byte) (string, error) {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return "", fmt.Errorf("model: expected JSON string, got %q", b)
	}
	return string(b[1 : len(b)-1]), nil
}
