// Package store is the spec's out-of-scope "relational store" collaborator
// (spec.md §3, §6), implemented as a minimal but real persistence layer so
// the module runs end to end. The Store interface is the contract every
// role node programs against; the concrete implementation is backed by
// github.com/syndtr/goleveldb, keyed with per-table byte prefixes the way
// jeongkyun-oh-klaytn/storage/database's levelDB wrapper keys its tables —
// only the prefix-namespaced-single-KV idea is reused, the schema and code
// here are written from scratch for this chain's four tables.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"horde/internal/model"
)

// Store is what the peer layer persists committed chain state through.
type Store interface {
	// PutBlock atomically persists b, every transaction and mutation it
	// carries, and the resulting AccountState row for each mutated
	// account — spec.md §3's "one atomic transaction" for block commit.
	PutBlock(b model.Block) error
	GetBlock(number int) (model.Block, error)
	LatestBlock() (model.Block, error)
	ListBlocks(asc bool, limit, offset int) ([]model.Block, error)

	GetAccountLatest(account string) (model.AccountState, bool, error)
	GetAccountVersion(account string, version int) (model.AccountState, bool, error)
	// SeedGenesisAccount writes one account row outside the block-commit path.
	SeedGenesisAccount(state model.AccountState) error

	Close() error
}

const (
	prefixBlock        = "b/"
	prefixAccount      = "a/"
	prefixAccountLatest = "al/"
	prefixTransaction  = "t/"
	prefixMutation     = "m/"
	keyLatestBlockNum  = "meta/latest-block-number"
)

func blockKey(number int) []byte {
	return append([]byte(prefixBlock), encodeUint(uint64(number))...)
}

func accountVersionKey(account string, version int) []byte {
	key := append([]byte(prefixAccount), []byte(account)...)
	key = append(key, '/')
	return append(key, encodeUint(uint64(version))...)
}

func accountLatestKey(account string) []byte {
	return append([]byte(prefixAccountLatest), []byte(account)...)
}

func transactionKey(hash model.Hash32) []byte {
	return append([]byte(prefixTransaction), []byte(hash.Hex())...)
}

func mutationKey(hash model.Hash32) []byte {
	return append([]byte(prefixMutation), []byte(hash.Hex())...)
}

func encodeUint(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// LevelStore is the goleveldb-backed Store.
type LevelStore struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the LevelDB file at path.
func Open(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error { return s.db.Close() }

// PutBlock writes the block row, every transaction row, every mutation
// row, and the new AccountState row per mutation, all in one leveldb.Batch.
func (s *LevelStore) PutBlock(b model.Block) error {
	batch := new(leveldb.Batch)

	blockJSON, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: marshal block: %w", err)
	}
	batch.Put(blockKey(b.Number), blockJSON)
	batch.Put([]byte(keyLatestBlockNum), encodeUint(uint64(b.Number)))

	for _, tx := range b.Transactions {
		txJSON, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("store: marshal transaction %s: %w", tx.Hash, err)
		}
		batch.Put(transactionKey(tx.Hash), txJSON)

		for _, m := range tx.Mutations {
			mJSON, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("store: marshal mutation %s: %w", m.Hash, err)
			}
			batch.Put(mutationKey(m.Hash), mJSON)

			nextJSON, err := json.Marshal(m.NextState)
			if err != nil {
				return fmt.Errorf("store: marshal account state: %w", err)
			}
			batch.Put(accountVersionKey(m.Account, m.NextState.Version), nextJSON)
			batch.Put(accountLatestKey(m.Account), nextJSON)
		}
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("store: commit block %d: %w", b.Number, err)
	}
	return nil
}

// GetBlock returns the block with the given number.
func (s *LevelStore) GetBlock(number int) (model.Block, error) {
	raw, err := s.db.Get(blockKey(number), nil)
	if err != nil {
		return model.Block{}, fmt.Errorf("store: get block %d: %w", number, err)
	}
	var b model.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return model.Block{}, fmt.Errorf("store: decode block %d: %w", number, err)
	}
	return b, nil
}

// LatestBlock returns the highest-numbered committed block.
func (s *LevelStore) LatestBlock() (model.Block, error) {
	raw, err := s.db.Get([]byte(keyLatestBlockNum), nil)
	if err != nil {
		return model.Block{}, fmt.Errorf("store: get latest block number: %w", err)
	}
	return s.GetBlock(int(binary.BigEndian.Uint64(raw)))
}

// ListBlocks returns up to limit committed blocks starting at offset, in
// ascending or descending number order.
func (s *LevelStore) ListBlocks(asc bool, limit, offset int) ([]model.Block, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixBlock)), nil)
	defer iter.Release()

	var rows [][]byte
	for iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		rows = append(rows, value)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate blocks: %w", err)
	}

	if !asc {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	out := make([]model.Block, 0, len(rows))
	for _, raw := range rows {
		var b model.Block
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("store: decode block: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// GetAccountLatest returns the most recent AccountState committed for
// account, or ok=false if the account has never been mutated (not even to
// its genesis row).
func (s *LevelStore) GetAccountLatest(account string) (model.AccountState, bool, error) {
	raw, err := s.db.Get(accountLatestKey(account), nil)
	if err == leveldb.ErrNotFound {
		return model.AccountState{}, false, nil
	}
	if err != nil {
		return model.AccountState{}, false, fmt.Errorf("store: get latest account %s: %w", account, err)
	}
	var s2 model.AccountState
	if err := json.Unmarshal(raw, &s2); err != nil {
		return model.AccountState{}, false, fmt.Errorf("store: decode account %s: %w", account, err)
	}
	return s2, true, nil
}

// GetAccountVersion returns account's row at the given version.
func (s *LevelStore) GetAccountVersion(account string, version int) (model.AccountState, bool, error) {
	raw, err := s.db.Get(accountVersionKey(account, version), nil)
	if err == leveldb.ErrNotFound {
		return model.AccountState{}, false, nil
	}
	if err != nil {
		return model.AccountState{}, false, fmt.Errorf("store: get account %s v%d: %w", account, version, err)
	}
	var s2 model.AccountState
	if err := json.Unmarshal(raw, &s2); err != nil {
		return model.AccountState{}, false, fmt.Errorf("store: decode account %s v%d: %w", account, version, err)
	}
	return s2, true, nil
}

// SeedGenesisAccount writes an account's version-0 row directly, used by
// `horde init` to create the genesis accounts listed in spec.md §8's
// end-to-end scenario 1, bypassing PutBlock since genesis has no
// transactions to hang the row off of.
func (s *LevelStore) SeedGenesisAccount(state model.AccountState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal genesis account %s: %w", state.Account, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(accountVersionKey(state.Account, state.Version), raw)
	batch.Put(accountLatestKey(state.Account), raw)
	return s.db.Write(batch, nil)
}
