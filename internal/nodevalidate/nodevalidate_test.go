package nodevalidate

import (
	"crypto/ed25519"
	"testing"
	"time"

	"horde/internal/chaincrypto"
	"horde/internal/model"
)

type staticKeys map[string]ed25519.PublicKey

func (s staticKeys) PublicKey(id string) (ed25519.PublicKey, error) { return s[id], nil }

func signedTransaction(t *testing.T, endorser string, priv ed25519.PrivateKey, prev model.AccountState, delta model.Amount) model.Transaction {
	t.Helper()
	m := model.NewMutation(prev, delta)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hashes := []model.Hash32{m.Hash}
	preimage := model.SignaturePreimage(endorser, ts, hashes)
	sig, err := chaincrypto.Sign(priv, preimage)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	h := model.HashTransaction(endorser, ts, sig, hashes)
	return model.Transaction{
		Hash:      h,
		Endorser:  endorser,
		Signature: sig,
		Timestamp: ts,
		Mutations: []model.Mutation{m},
	}
}

func TestTransactionValidatesHashAndSignature(t *testing.T) {
	pub, priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	prev := model.Genesis("alice")
	tx := signedTransaction(t, "e1", priv, prev, model.NewAmount(10))

	keys := staticKeys{"e1": pub}
	if err := Transaction(tx, keys); err != nil {
		t.Fatalf("expected valid transaction, got %v", err)
	}
}

func TestTransactionWrongSignature(t *testing.T) {
	pub, priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, otherPriv, _ := chaincrypto.GenerateKeyPair()
	_ = priv

	prev := model.Genesis("alice")
	tx := signedTransaction(t, "e1", otherPriv, prev, model.NewAmount(10))

	keys := staticKeys{"e1": pub}
	if err := Transaction(tx, keys); err == nil || err.Error() != "wrong signature" {
		t.Fatalf("expected wrong signature error, got %v", err)
	}
}

func TestTransactionWrongHash(t *testing.T) {
	pub, priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	prev := model.Genesis("alice")
	tx := signedTransaction(t, "e1", priv, prev, model.NewAmount(10))
	tx.Hash[0] ^= 0xFF

	keys := staticKeys{"e1": pub}
	if err := Transaction(tx, keys); err == nil || err.Error() != "wrong hash" {
		t.Fatalf("expected wrong hash error, got %v", err)
	}
}

func TestBlockValidation(t *testing.T) {
	pub, priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	prev := model.Genesis("alice")
	tx := signedTransaction(t, "e1", priv, prev, model.NewAmount(10))

	genesis := model.NewGenesis(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	block := model.NewBlock(genesis, time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC), []model.Transaction{tx})

	keys := staticKeys{"e1": pub}
	if err := Block(block, keys); err != nil {
		t.Fatalf("expected valid block, got %v", err)
	}
}
