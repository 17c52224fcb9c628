package model

import "crypto/sha256"

// Mutation is one account's state transition, carried inside exactly one
// Transaction. next_version must equal prev_version + 1.
type Mutation struct {
	Hash            Hash32       `json:"hash"`
	Account         string       `json:"account"`
	PrevState       AccountState `json:"prev_account_state"`
	NextState       AccountState `json:"next_account_state"`
	TransactionHash Hash32       `json:"-"`
}

// HashMutation computes H(prevStateHash || nextStateHash).
func HashMutation(prevHash, nextHash Hash32) Hash32 {
	buf := make([]byte, 0, 64)
	buf = append(buf, prevHash[:]...)
	buf = append(buf, nextHash[:]...)
	return sha256.Sum256(buf)
}

// NewMutation builds a mutation applying delta to prev, with its Hash
// computed, leaving TransactionHash to be filled in by the caller once the
// owning transaction is known.
func NewMutation(prev AccountState, delta Amount) Mutation {
	next := prev.Next(delta)
	return Mutation{
		Hash:      HashMutation(prev.Hash, next.Hash),
		Account:   prev.Account,
		PrevState: prev,
		NextState: next,
	}
}

// Valid reports whether the mutation's invariants hold: version continuity
// and a correctly recomputed hash.
func (m Mutation) Valid() bool {
	if m.NextState.Version != m.PrevState.Version+1 {
		return false
	}
	if m.NextState.Account != m.PrevState.Account || m.Account != m.PrevState.Account {
		return false
	}
	return HashMutation(m.PrevState.Hash, m.NextState.Hash) == m.Hash
}
