package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAmountFmt3AndJSON(t *testing.T) {
	a := NewAmount(100.0)
	if a.Fmt3() != "100.000" {
		t.Fatalf("Fmt3 = %s", a.Fmt3())
	}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != "100.000" {
		t.Fatalf("json = %s", b)
	}
	var round Amount
	if err := json.Unmarshal(b, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round != a {
		t.Fatalf("round trip mismatch: %v != %v", round, a)
	}
}

func TestAmountFmt3NegativeSubUnit(t *testing.T) {
	a := Amount(-500)
	if got := a.Fmt3(); got != "-0.500" {
		t.Fatalf("Fmt3 = %s, want -0.500", got)
	}
}

func TestAccountStateHashAndNext(t *testing.T) {
	g := Genesis("alice")
	if g.Version != 0 || g.Value != 0 {
		t.Fatalf("genesis should be zero: %+v", g)
	}
	if g.Hash != HashAccountState("alice", 0, 0) {
		t.Fatalf("genesis hash mismatch")
	}
	next := g.Next(NewAmount(50))
	if next.Version != 1 {
		t.Fatalf("next version = %d", next.Version)
	}
	if next.Value != NewAmount(50) {
		t.Fatalf("next value = %v", next.Value)
	}
}

func TestMutationValid(t *testing.T) {
	prev := Genesis("bob")
	m := NewMutation(prev, NewAmount(10))
	if !m.Valid() {
		t.Fatalf("expected mutation to validate")
	}
	tampered := m
	tampered.NextState.Version = 5
	if tampered.Valid() {
		t.Fatalf("expected tampered mutation to fail validation")
	}
}

func TestTransactionHashRoundTrip(t *testing.T) {
	prev := Genesis("alice")
	m := NewMutation(prev, NewAmount(-10))
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := Sig64{}
	hashes := []Hash32{m.Hash}
	h := HashTransaction("endorser-1", ts, sig, hashes)
	tx := Transaction{
		Hash:      h,
		Endorser:  "endorser-1",
		Signature: sig,
		Timestamp: ts,
		Mutations: []Mutation{m},
	}
	if tx.Recompute() != tx.Hash {
		t.Fatalf("recompute mismatch")
	}

	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round Transaction
	if err := json.Unmarshal(b, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round.Hash != tx.Hash || round.Endorser != tx.Endorser {
		t.Fatalf("round trip mismatch: %+v != %+v", round, tx)
	}
}

func TestBlockGenesisAndNext(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := NewGenesis(ts)
	if genesis.Number != 1 || genesis.PrevHash != ZeroHash {
		t.Fatalf("bad genesis: %+v", genesis)
	}
	if genesis.Recompute() != genesis.Hash {
		t.Fatalf("genesis hash mismatch")
	}

	next := NewBlock(genesis, ts.Add(time.Second), nil)
	if next.Number != 2 {
		t.Fatalf("number = %d", next.Number)
	}
	if next.PrevHash != genesis.Hash {
		t.Fatalf("prev hash mismatch")
	}
	if next.Recompute() != next.Hash {
		t.Fatalf("next block hash mismatch")
	}
}
