// Package peer is the persistent state and handlers common to orderer and
// endorser (spec.md §4.7): query APIs, block-verification vote accounting,
// and block commit. Both role packages embed a *Peer and call
// ProcessNewBlockchain directly (the orderer for the block it just
// assembled) or indirectly through the new-blockchain notification handler
// (every other peer).
package peer

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"horde/internal/metrics"
	"horde/internal/model"
	"horde/internal/nodevalidate"
	"horde/internal/registry"
	"horde/internal/rpcerr"
	"horde/internal/store"
)

// TopologyEntry is one open connection with a resolved peer identity,
// returned by query-topology. Accepted and dialed connections are both
// listed; an entry does not say which side opened the connection.
type TopologyEntry struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// KeyResolver is satisfied by *keystore.KeyStore.
type KeyResolver interface {
	PublicKey(id string) (ed25519.PublicKey, error)
}

// proposalEntry is an in-memory, not-yet-committed block awaiting votes.
type proposalEntry struct {
	block *model.Block
	votes int
}

// Peer holds the verification/commit state shared by the orderer and
// endorser role nodes.
type Peer struct {
	ID        string
	PeerCount int // number of peer-role nodes (orderer + endorsers), including self

	store   store.Store
	keys    KeyResolver
	metrics *metrics.Registry
	log     *logrus.Logger

	broadcast     func(method string, params any)
	topology      func() []TopologyEntry
	setPeerConfig func(connID, id, role string) error

	mu        sync.Mutex
	proposals map[model.Hash32]*proposalEntry
}

// New builds a Peer. broadcast fans out new-blockchain-verified
// notifications; topology reports the currently accepted connections for
// query-topology; setPeerConfig records a connection's self-reported
// identity (see handleAnnounce). A nil log defaults to logrus's standard
// logger.
func New(id string, peerCount int, st store.Store, keys KeyResolver, m *metrics.Registry, broadcast func(method string, params any), topology func() []TopologyEntry, setPeerConfig func(connID, id, role string) error, log *logrus.Logger) *Peer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Peer{
		ID:            id,
		PeerCount:     peerCount,
		store:         st,
		keys:          keys,
		metrics:       m,
		log:           log,
		broadcast:     broadcast,
		topology:      topology,
		setPeerConfig: setPeerConfig,
		proposals:     make(map[model.Hash32]*proposalEntry),
	}
}

// VerifyNum is the quorum size: min(peers, max(3, 2*ceil((peers-1)/3)+1)),
// sized to tolerate floor((n-1)/3) faults for n>3, and n for n<=3.
func (p *Peer) VerifyNum() int {
	n := p.PeerCount
	if n <= 0 {
		return 1
	}
	faultTolerance := int(math.Ceil(float64(n-1) / 3))
	quorum := 2*faultTolerance + 1
	if quorum < 3 {
		quorum = 3
	}
	if quorum > n {
		quorum = n
	}
	return quorum
}

type verifiedNotice struct {
	Hash     string `json:"hash"`
	Verified bool   `json:"verified"`
}

// ProcessNewBlockchain validates block against the node layer and the
// locally committed chain, records it as a proposal with a self-vote if
// valid, and returns the local verdict. Called both directly by the
// orderer for the block it just assembled, and by the new-blockchain
// notification handler for blocks received from the orderer. The self-vote
// goes through tallyVote, so a quorum of one commits the block at once.
func (p *Peer) ProcessNewBlockchain(block model.Block) bool {
	if err := nodevalidate.Block(block, p.keys); err != nil {
		p.log.WithFields(logrus.Fields{"block": block.Hash.Hex(), "error": err}).Warn("peer: block failed node-layer validation")
		p.recordProposal(block)
		return false
	}

	verified := p.verifyAgainstChain(block)
	p.recordProposal(block)
	if verified {
		p.tallyVote(block.Hash)
	}
	return verified
}

func (p *Peer) recordProposal(block model.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proposals[block.Hash] = &proposalEntry{block: &block}
}

// verifyAgainstChain checks chain continuity, per-mutation prev-state
// matching against the committed store, and conflict-freedom within the
// block (spec.md §4.7 steps 2-3).
func (p *Peer) verifyAgainstChain(block model.Block) bool {
	latest, err := p.store.LatestBlock()
	if err != nil {
		p.log.WithFields(logrus.Fields{"error": err}).Warn("peer: cannot load latest block")
		return false
	}
	if block.Number != latest.Number+1 || block.PrevHash != latest.Hash {
		p.log.WithFields(logrus.Fields{"block": block.Hash.Hex()}).Warn("peer: block does not extend the committed chain")
		return false
	}

	seenAccounts := make(map[string]bool)
	for _, tx := range block.Transactions {
		for _, m := range tx.Mutations {
			if seenAccounts[m.Account] {
				p.log.WithFields(logrus.Fields{"account": m.Account}).Warn("peer: account mutated twice in one block")
				return false
			}
			seenAccounts[m.Account] = true

			committed, ok, err := p.store.GetAccountLatest(m.Account)
			if err != nil {
				p.log.WithFields(logrus.Fields{"account": m.Account, "error": err}).Warn("peer: cannot load account")
				return false
			}
			if !ok {
				committed = model.Genesis(m.Account)
			}
			if committed.Version != m.PrevState.Version || committed.Value != m.PrevState.Value {
				p.log.WithFields(logrus.Fields{"account": m.Account}).Warn("peer: mutation prev-state does not match committed account")
				return false
			}
		}
	}
	return true
}

// HandleNewBlockchain is the notification handler for new-blockchain
// messages received from the orderer: it processes the block and
// broadcasts this peer's verdict.
func (p *Peer) HandleNewBlockchain(ctx context.Context, connID string, params json.RawMessage) {
	var block model.Block
	if err := json.Unmarshal(params, &block); err != nil {
		p.log.WithFields(logrus.Fields{"conn": connID, "error": err}).Warn("peer: malformed new-blockchain payload")
		return
	}
	verified := p.ProcessNewBlockchain(block)
	p.BroadcastVerified(block.Hash, verified)
}

// BroadcastVerified fans out this peer's verdict for hash to every
// connected peer.
func (p *Peer) BroadcastVerified(hash model.Hash32, verified bool) {
	if p.broadcast == nil {
		return
	}
	p.broadcast("new-blockchain-verified", verifiedNotice{Hash: hash.Hex(), Verified: verified})
}

// HandleNewBlockchainVerified is the notification handler for
// new-blockchain-verified messages from any other peer: it tallies the
// vote and commits the block once quorum is reached.
func (p *Peer) HandleNewBlockchainVerified(ctx context.Context, connID string, params json.RawMessage) {
	var notice verifiedNotice
	if err := json.Unmarshal(params, &notice); err != nil {
		p.log.WithFields(logrus.Fields{"conn": connID, "error": err}).Warn("peer: malformed new-blockchain-verified payload")
		return
	}
	if !notice.Verified {
		return
	}
	hash, err := decodeHash(notice.Hash)
	if err != nil {
		p.log.WithFields(logrus.Fields{"conn": connID, "error": err}).Warn("peer: malformed hash in verified notice")
		return
	}
	p.tallyVote(hash)
}

func (p *Peer) tallyVote(hash model.Hash32) {
	p.mu.Lock()
	entry, ok := p.proposals[hash]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry.votes++
	quorum := p.VerifyNum()
	if entry.votes < quorum {
		p.mu.Unlock()
		return
	}
	// Commit is idempotent-by-omission: pop the entry now so any further
	// votes for this hash (arriving concurrently) find nothing to tally.
	block := *entry.block
	delete(p.proposals, hash)
	p.mu.Unlock()

	if err := p.store.PutBlock(block); err != nil {
		p.log.WithFields(logrus.Fields{"block": hash.Hex(), "error": err}).Error("peer: commit failed")
		return
	}
	if p.metrics != nil {
		p.metrics.BlocksCommitted.Inc()
	}
	p.log.WithFields(logrus.Fields{"block": hash.Hex(), "number": block.Number}).Info("peer: committed block")
}

func decodeHash(s string) (model.Hash32, error) {
	var h model.Hash32
	quoted := []byte(`"` + s + `"`)
	if err := json.Unmarshal(quoted, &h); err != nil {
		return model.Hash32{}, fmt.Errorf("peer: decode hash %q: %w", s, err)
	}
	return h, nil
}
