package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Block (called "Blockchain" in the data model, §3) is one entry in the
// committed chain. Genesis is number 1 with a zero prev_hash and no
// transactions; every later block's number is prev.number+1 and its
// prev_hash is prev.hash.
type Block struct {
	Hash         Hash32        `json:"hash"`
	PrevHash     Hash32        `json:"prev_hash"`
	Timestamp    time.Time     `json:"timestamp"`
	Number       int           `json:"number"`
	Transactions []Transaction `json:"transactions"`
}

// HashBlock computes the canonical block hash:
//
//	H(prev_hash || "," || iso(timestamp) || "," || number || "," || tx hashes concatenated)
func HashBlock(prevHash Hash32, ts time.Time, number int, txHashes []Hash32) Hash32 {
	buf := append([]byte(nil), prevHash[:]...)
	buf = append(buf, ',')
	buf = append(buf, []byte(FormatTimestamp(ts))...)
	buf = append(buf, ',')
	buf = append(buf, []byte(fmt.Sprintf("%d", number))...)
	buf = append(buf, ',')
	for _, h := range txHashes {
		buf = append(buf, h[:]...)
	}
	return sha256.Sum256(buf)
}

// NewGenesis builds block #1: zero prev_hash, no transactions.
func NewGenesis(ts time.Time) Block {
	b := Block{PrevHash: ZeroHash, Timestamp: ts, Number: 1}
	b.Hash = HashBlock(b.PrevHash, b.Timestamp, b.Number, nil)
	return b
}

// NewBlock assembles the block that follows prev, given a timestamp and an
// ordered list of transactions.
func NewBlock(prev Block, ts time.Time, txs []Transaction) Block {
	b := Block{
		PrevHash:     prev.Hash,
		Timestamp:    ts,
		Number:       prev.Number + 1,
		Transactions: txs,
	}
	b.Hash = HashBlock(b.PrevHash, b.Timestamp, b.Number, b.TransactionHashes())
	return b
}

// TransactionHashes extracts the ordered list of transaction hashes.
func (b Block) TransactionHashes() []Hash32 {
	hashes := make([]Hash32, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash
	}
	return hashes
}

// Recompute returns the hash b would have if recomputed from its own
// fields — used by the node layer to validate an inbound block.
func (b Block) Recompute() Hash32 {
	return HashBlock(b.PrevHash, b.Timestamp, b.Number, b.TransactionHashes())
}
