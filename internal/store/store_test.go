package store

import (
	"path/filepath"
	"testing"
	"time"

	"horde/internal/model"
)

func openTestStore(t *testing.T) *LevelStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetBlock(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := model.NewGenesis(ts)
	if err := s.PutBlock(genesis); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	got, err := s.GetBlock(1)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.Hash != genesis.Hash {
		t.Fatalf("hash mismatch")
	}

	latest, err := s.LatestBlock()
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if latest.Number != 1 {
		t.Fatalf("latest number = %d", latest.Number)
	}
}

func TestPutBlockPersistsMutatedAccounts(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesis := model.NewGenesis(ts)
	if err := s.PutBlock(genesis); err != nil {
		t.Fatalf("PutBlock genesis: %v", err)
	}

	prev := model.Genesis("alice")
	if err := s.SeedGenesisAccount(prev); err != nil {
		t.Fatalf("SeedGenesisAccount: %v", err)
	}

	mutation := model.NewMutation(prev, model.NewAmount(50))
	hashes := []model.Hash32{mutation.Hash}
	sig := model.Sig64{}
	txTS := ts.Add(time.Second)
	txHash := model.HashTransaction("e1", txTS, sig, hashes)
	tx := model.Transaction{
		Hash:      txHash,
		Endorser:  "e1",
		Signature: sig,
		Timestamp: txTS,
		Mutations: []model.Mutation{mutation},
	}
	block := model.NewBlock(genesis, txTS, []model.Transaction{tx})
	if err := s.PutBlock(block); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	latestAccount, ok, err := s.GetAccountLatest("alice")
	if err != nil {
		t.Fatalf("GetAccountLatest: %v", err)
	}
	if !ok {
		t.Fatalf("expected account to be present")
	}
	if latestAccount.Version != 1 || latestAccount.Value != model.NewAmount(50) {
		t.Fatalf("unexpected latest account state: %+v", latestAccount)
	}

	versioned, ok, err := s.GetAccountVersion("alice", 0)
	if err != nil {
		t.Fatalf("GetAccountVersion: %v", err)
	}
	if !ok || versioned.Value != 0 {
		t.Fatalf("unexpected version-0 state: %+v", versioned)
	}
}

func TestListBlocksOrderingAndPaging(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	block := model.NewGenesis(ts)
	if err := s.PutBlock(block); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	for i := 0; i < 4; i++ {
		block = model.NewBlock(block, ts.Add(time.Duration(i+1)*time.Second), nil)
		if err := s.PutBlock(block); err != nil {
			t.Fatalf("PutBlock: %v", err)
		}
	}

	desc, err := s.ListBlocks(false, 2, 0)
	if err != nil {
		t.Fatalf("ListBlocks desc: %v", err)
	}
	if len(desc) != 2 || desc[0].Number != 5 || desc[1].Number != 4 {
		t.Fatalf("unexpected desc listing: %+v", desc)
	}

	asc, err := s.ListBlocks(true, 0, 0)
	if err != nil {
		t.Fatalf("ListBlocks asc: %v", err)
	}
	if len(asc) != 5 || asc[0].Number != 1 || asc[4].Number != 5 {
		t.Fatalf("unexpected asc listing: %+v", asc)
	}
}
