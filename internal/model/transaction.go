package model

import (
	"crypto/sha256"
	"time"
)

// Transaction is an endorser-signed set of mutations. It becomes
// persistent only once included in a committed Block; before that it is
// carried as an unpersisted "envelope" returned by an endorser.
type Transaction struct {
	Hash      Hash32     `json:"hash"`
	Endorser  string     `json:"endorser"`
	Signature Sig64      `json:"signature"`
	Timestamp time.Time  `json:"timestamp"`
	Mutations []Mutation `json:"mutations"`
}

// SignaturePreimage builds repr(endorser) || iso(timestamp) || mutation
// hashes concatenated, the exact bytes an endorser signs.
func SignaturePreimage(endorser string, ts time.Time, mutationHashes []Hash32) []byte {
	buf := []byte(endorser)
	buf = append(buf, []byte(FormatTimestamp(ts))...)
	for _, h := range mutationHashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// HashTransaction computes H(repr(endorser) || iso(timestamp) || signature
// || mutation hashes concatenated).
func HashTransaction(endorser string, ts time.Time, sig Sig64, mutationHashes []Hash32) Hash32 {
	buf := []byte(endorser)
	buf = append(buf, []byte(FormatTimestamp(ts))...)
	buf = append(buf, sig[:]...)
	for _, h := range mutationHashes {
		buf = append(buf, h[:]...)
	}
	return sha256.Sum256(buf)
}

// MutationHashes extracts the ordered list of mutation hashes from a
// transaction's mutations, as used in both the signature and hash
// preimages.
func (t Transaction) MutationHashes() []Hash32 {
	hashes := make([]Hash32, len(t.Mutations))
	for i, m := range t.Mutations {
		hashes[i] = m.Hash
	}
	return hashes
}

// Recompute returns the hash t would have if recomputed from its own
// fields, for callers to compare against t.Hash (the signature itself is
// checked separately, against the endorser's public key, since that
// requires the keystore).
func (t Transaction) Recompute() Hash32 {
	return HashTransaction(t.Endorser, t.Timestamp, t.Signature, t.MutationHashes())
}

// Accounts returns the set of accounts mutated by this transaction.
func (t Transaction) Accounts() []string {
	out := make([]string, len(t.Mutations))
	for i, m := range t.Mutations {
		out[i] = m.Account
	}
	return out
}
