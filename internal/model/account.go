package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// AccountState is one append-only, versioned row for an account. Version 0
// is the genesis row with a zero value. (account, version) is the unique
// key; versions are strictly monotone per account.
type AccountState struct {
	Account string `json:"account"`
	Version int    `json:"version"`
	Value   Amount `json:"value"`
	Hash    Hash32 `json:"hash"`
}

// HashAccountState computes H(repr(account), version, fmt3(value)) for the
// given fields, independent of any existing Hash field on the struct — used
// both to produce a new row's hash and to recompute one for validation.
func HashAccountState(account string, version int, value Amount) Hash32 {
	preimage := fmt.Sprintf("%s,%d,%s", account, version, value.Fmt3())
	return sha256.Sum256([]byte(preimage))
}

// Genesis builds the version-0 row for account with a zero balance.
func Genesis(account string) AccountState {
	s := AccountState{Account: account, Version: 0, Value: 0}
	s.Hash = HashAccountState(s.Account, s.Version, s.Value)
	return s
}

// Next builds the account row that results from applying delta to s.
func (s AccountState) Next(delta Amount) AccountState {
	next := AccountState{
		Account: s.Account,
		Version: s.Version + 1,
		Value:   s.Value + delta,
	}
	next.Hash = HashAccountState(next.Account, next.Version, next.Value)
	return next
}

// FormatTimestamp renders t as the ISO 8601 UTC representation used in every
// hash preimage and wire encoding (second precision is sufficient).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
