// Package nodevalidate implements the role-independent validation utilities
// shared by every peer: canonical hash recomputation for account states,
// mutations, transactions and blocks, and signature verification for
// transactions. Every inbound encoded entity is validated by recomputing
// its hash and rejecting on mismatch (spec.md §4.4).
package nodevalidate

import (
	"crypto/ed25519"
	"fmt"

	"horde/internal/chaincrypto"
	"horde/internal/model"
	"horde/internal/rpcerr"
)

// PublicKeyResolver looks up an endorser's public key by peer id.
type PublicKeyResolver interface {
	PublicKey(id string) (ed25519.PublicKey, error)
}

// Account recomputes an AccountState's hash and rejects a mismatch with
// rpcerr.WrongHash().
func Account(s model.AccountState) error {
	want := model.HashAccountState(s.Account, s.Version, s.Value)
	if want != s.Hash {
		return rpcerr.WrongHash()
	}
	return nil
}

// Mutation recomputes a Mutation's hash (and its two AccountState rows')
// and rejects any mismatch with rpcerr.WrongHash().
func Mutation(m model.Mutation) error {
	if err := Account(m.PrevState); err != nil {
		return err
	}
	if err := Account(m.NextState); err != nil {
		return err
	}
	if m.NextState.Version != m.PrevState.Version+1 {
		return rpcerr.BadRequest("mutation version is not prev+1")
	}
	if model.HashMutation(m.PrevState.Hash, m.NextState.Hash) != m.Hash {
		return rpcerr.WrongHash()
	}
	return nil
}

// Transaction recomputes a Transaction's hash, validates every mutation,
// and verifies the signature against the endorser's public key resolved
// via keys. Returns rpcerr.WrongHash() or rpcerr.WrongSignature() as
// appropriate.
func Transaction(t model.Transaction, keys PublicKeyResolver) error {
	for _, m := range t.Mutations {
		if err := Mutation(m); err != nil {
			return err
		}
	}
	mutationHashes := t.MutationHashes()
	if model.HashTransaction(t.Endorser, t.Timestamp, t.Signature, mutationHashes) != t.Hash {
		return rpcerr.WrongHash()
	}

	pub, err := keys.PublicKey(t.Endorser)
	if err != nil {
		return fmt.Errorf("nodevalidate: resolve endorser key: %w", err)
	}
	preimage := model.SignaturePreimage(t.Endorser, t.Timestamp, mutationHashes)
	if !chaincrypto.Verify(pub, preimage, t.Signature) {
		return rpcerr.WrongSignature()
	}
	return nil
}

// Block recomputes a Block's hash and validates every contained
// transaction.
func Block(b model.Block, keys PublicKeyResolver) error {
	for _, t := range b.Transactions {
		if err := Transaction(t, keys); err != nil {
			return err
		}
	}
	if b.Recompute() != b.Hash {
		return rpcerr.WrongHash()
	}
	return nil
}
