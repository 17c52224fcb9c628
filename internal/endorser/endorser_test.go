package endorser

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"horde/internal/chaincrypto"
	"horde/internal/model"
	"horde/internal/peer"
	"horde/internal/store"
)

// staticResolver stands in for the router's PeerIdentity lookup: every
// connID in the map resolves to the given caller, as if announce had
// already run on that connection.
type staticResolver map[string]string

func (m staticResolver) resolve(connID string) (string, bool) {
	caller, ok := m[connID]
	return caller, ok
}

func newTestEndorser(t *testing.T) (*Endorser, store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	_, priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	p := peer.New("e1", 1, st, nil, nil, nil, nil, nil, nil)
	resolver := staticResolver{"c1": "admin"}
	return New(p, priv, st, resolver.resolve, nil), st
}

func TestMakeMoneyCreditsBothCoinbaseAndCaller(t *testing.T) {
	e, _ := newTestEndorser(t)
	params, _ := json.Marshal(makeMoneyParams{Amount: 100})

	result, err := e.handleMakeMoney(nil, "c1", params)
	if err != nil {
		t.Fatalf("handleMakeMoney: %v", err)
	}
	tx := result.(model.Transaction)
	if len(tx.Mutations) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(tx.Mutations))
	}
	if tx.Mutations[0].Account != "coinbase" || tx.Mutations[0].NextState.Value != model.NewAmount(100) {
		t.Fatalf("coinbase mutation wrong: %+v", tx.Mutations[0])
	}
	if tx.Mutations[1].Account != "admin" || tx.Mutations[1].NextState.Value != model.NewAmount(100) {
		t.Fatalf("caller mutation wrong: %+v", tx.Mutations[1])
	}
	for _, m := range tx.Mutations {
		if !m.Valid() {
			t.Fatalf("mutation failed self-validation: %+v", m)
		}
	}
}

func TestMakeMoneyRejectsNonPositiveAmount(t *testing.T) {
	e, _ := newTestEndorser(t)
	params, _ := json.Marshal(makeMoneyParams{Amount: 0})
	if _, err := e.handleMakeMoney(nil, "c1", params); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
}

func TestMakeMoneyRejectsUnknownCaller(t *testing.T) {
	e, _ := newTestEndorser(t)
	params, _ := json.Marshal(makeMoneyParams{Amount: 100})
	if _, err := e.handleMakeMoney(nil, "unannounced-conn", params); err == nil {
		t.Fatalf("expected error for a connection that never announced")
	}
}

func fundAccount(t *testing.T, st store.Store, account string, value model.Amount) {
	t.Helper()
	funded := model.Genesis(account).Next(value)
	if err := st.SeedGenesisAccount(funded); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func TestTransferMoneyDebitsCallerAndCreditsTargets(t *testing.T) {
	e, st := newTestEndorser(t)
	fundAccount(t, st, "admin", model.NewAmount(100))

	params, _ := json.Marshal([]transferTarget{{Amount: 30, Target: "c"}})
	result, err := e.handleTransferMoney(nil, "c1", params)
	if err != nil {
		t.Fatalf("handleTransferMoney: %v", err)
	}
	tx := result.(model.Transaction)
	if len(tx.Mutations) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(tx.Mutations))
	}
	if tx.Mutations[0].NextState.Value != model.NewAmount(70) {
		t.Fatalf("expected debit to 70, got %v", tx.Mutations[0].NextState.Value)
	}
	if tx.Mutations[1].Account != "c" || tx.Mutations[1].NextState.Value != model.NewAmount(30) {
		t.Fatalf("expected credit of 30 to c, got %+v", tx.Mutations[1])
	}
	for _, m := range tx.Mutations {
		if !m.Valid() {
			t.Fatalf("mutation failed self-validation: %+v", m)
		}
	}
}

func TestTransferMoneyRejectsInsufficientBalance(t *testing.T) {
	e, _ := newTestEndorser(t)
	params, _ := json.Marshal([]transferTarget{{Amount: 30, Target: "c"}})
	if _, err := e.handleTransferMoney(nil, "c1", params); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestTransferMoneyRejectsTargetingSelfOrCoinbase(t *testing.T) {
	e, st := newTestEndorser(t)
	fundAccount(t, st, "admin", model.NewAmount(100))
	params, _ := json.Marshal([]transferTarget{{Amount: 30, Target: "admin"}})
	if _, err := e.handleTransferMoney(nil, "c1", params); err == nil {
		t.Fatalf("expected rejection of self-target")
	}
}

func TestTransferMoneyRejectsDuplicateTargets(t *testing.T) {
	e, st := newTestEndorser(t)
	fundAccount(t, st, "admin", model.NewAmount(100))
	params, _ := json.Marshal([]transferTarget{
		{Amount: 10, Target: "c"},
		{Amount: 10, Target: "c"},
	})
	if _, err := e.handleTransferMoney(nil, "c1", params); err == nil {
		t.Fatalf("expected rejection of duplicate targets")
	}
}
