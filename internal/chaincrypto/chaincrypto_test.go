package chaincrypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("endorser-1,2026-01-01T00:00:00Z,deadbeef")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(pub, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	tampered := msg
	tampered = append(tampered, 'x')
	if Verify(pub, tampered, sig) {
		t.Fatalf("expected tampered message to fail verification")
	}
}

func TestPublicKeyEncodeDecode(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	s := EncodePublicKey(pub)
	decoded, err := DecodePublicKey(s)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if !decoded.Equal(pub) {
		t.Fatalf("round trip mismatch")
	}
}
