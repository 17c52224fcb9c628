// Package orderer accepts transactions, batches them, assembles blocks,
// broadcasts them, and relies on the peer layer to tally verification
// votes and commit (spec.md §4.6). The builder loop is a single goroutine
// using time.NewTimer reset each round, selected against a buffered
// newBlockSignal channel — the idiomatic Go reading of "wait on signal
// with timeout", mirroring the mu-guarded plain-map/slice idiom used
// throughout core/ for mutable scheduler state.
package orderer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"horde/internal/metrics"
	"horde/internal/model"
	"horde/internal/nodevalidate"
	"horde/internal/peer"
	"horde/internal/registry"
	"horde/internal/rpcerr"
	"horde/internal/store"
)

const (
	defaultMaxTransactionPool = 10
	defaultBuildTimeout       = time.Second
)

// Orderer owns the mempool exclusively (transactions, mutatedAccounts) and
// embeds a *peer.Peer for the query/verification/commit handlers it
// shares with endorsers.
type Orderer struct {
	*peer.Peer

	store   store.Store
	keys    nodevalidate.PublicKeyResolver
	metrics *metrics.Registry
	log     *logrus.Logger

	maxTransactionPool int
	buildTimeout       time.Duration

	mu              sync.Mutex
	transactions    []model.Transaction
	mutatedAccounts map[string]bool

	newBlockSignal chan struct{}
	broadcastBlock func(method string, params any)
}

// New builds an Orderer. p is the shared peer-layer state (query/verify/
// commit); broadcastBlock fans out new-blockchain notifications.
func New(p *peer.Peer, st store.Store, keys nodevalidate.PublicKeyResolver, m *metrics.Registry, maxTransactionPool int, buildTimeout time.Duration, broadcastBlock func(method string, params any), log *logrus.Logger) *Orderer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxTransactionPool <= 0 {
		maxTransactionPool = defaultMaxTransactionPool
	}
	if buildTimeout <= 0 {
		buildTimeout = defaultBuildTimeout
	}
	return &Orderer{
		Peer:               p,
		store:              st,
		keys:               keys,
		metrics:            m,
		log:                log,
		maxTransactionPool: maxTransactionPool,
		buildTimeout:       buildTimeout,
		mutatedAccounts:    make(map[string]bool),
		newBlockSignal:     make(chan struct{}, 1),
		broadcastBlock:     broadcastBlock,
	}
}

// Handlers merges the shared peer-layer handlers with submit-transactions,
// the one method the orderer alone answers.
func (o *Orderer) Handlers() *registry.Set {
	set := o.Peer.Handlers()
	set.Request("submit-transactions", registry.Role("admin"), o.handleSubmitTransactions)
	set.Request("submit-transactions", registry.Role("client"), o.handleSubmitTransactions)
	return set
}

type submitTransactionsParams struct {
	Transactions []model.Transaction `json:"transactions"`
}

// handleSubmitTransactions validates each envelope via the node layer and
// rejects the whole batch if any mutation's account is already present in
// the current in-memory batch or in a still-unbuilt block's
// mutatedAccounts set — the orderer's per-account single-flight rule.
func (o *Orderer) handleSubmitTransactions(ctx context.Context, connID string, params json.RawMessage) (any, error) {
	var req submitTransactionsParams
	if err := json.Unmarshal(params, &req); err != nil {
		// Tolerate a bare array for callers that don't wrap it in {transactions:[...]}.
		if err2 := json.Unmarshal(params, &req.Transactions); err2 != nil {
			return nil, rpcerr.BadRequest("invalid submit-transactions params")
		}
	}
	if len(req.Transactions) == 0 {
		return nil, rpcerr.BadRequest("at least one transaction is required")
	}

	for _, tx := range req.Transactions {
		if err := nodevalidate.Transaction(tx, o.keys); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	batchAccounts := make(map[string]bool)
	for _, tx := range req.Transactions {
		for _, account := range tx.Accounts() {
			if batchAccounts[account] || o.mutatedAccounts[account] {
				return nil, rpcerr.New("conflict transaction", nil)
			}
			batchAccounts[account] = true
		}
	}

	for account := range batchAccounts {
		o.mutatedAccounts[account] = true
	}
	o.transactions = append(o.transactions, req.Transactions...)
	if o.metrics != nil {
		o.metrics.MempoolSize.Set(float64(len(o.transactions)))
	}
	o.signalNewBlock()

	return map[string]int{"accepted": len(req.Transactions)}, nil
}

func (o *Orderer) signalNewBlock() {
	select {
	case o.newBlockSignal <- struct{}{}:
	default:
	}
}

// Run is the builder loop: one long-running goroutine that blocks on a
// round timer, building whatever is pending when it fires. A submission
// that fills the pool to its configured maximum signals the loop to build
// early instead of waiting out the rest of the round. It terminates when
// ctx is cancelled; any in-flight batch is lost, which is acceptable since
// the mempool is not durable.
func (o *Orderer) Run(ctx context.Context) {
	timer := time.NewTimer(o.buildTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.newBlockSignal:
			if !o.poolFull() {
				continue
			}
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
		o.maybeBuildBlock()
		timer.Reset(o.buildTimeout)
	}
}

func (o *Orderer) poolFull() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.transactions) >= o.maxTransactionPool
}

func (o *Orderer) maybeBuildBlock() {
	txs, ok := o.swapIfReady()
	if !ok {
		return
	}

	latest, err := o.store.LatestBlock()
	if err != nil {
		o.log.WithFields(logrus.Fields{"error": err}).Error("orderer: cannot load latest block, dropping batch")
		return
	}
	block := model.NewBlock(latest, time.Now().UTC(), txs)

	verified := o.Peer.ProcessNewBlockchain(block)
	if o.broadcastBlock != nil {
		o.broadcastBlock("new-blockchain", block)
	}
	o.Peer.BroadcastVerified(block.Hash, verified)

	o.log.WithFields(logrus.Fields{"number": block.Number, "transactions": len(txs)}).Info("orderer: assembled block")
}

// swapIfReady atomically swaps out the mempool into local copies if it is
// non-empty, returning ok=false when it is empty. It does not check the
// pool size: Run only calls it on a timer tick or once the pool is full.
func (o *Orderer) swapIfReady() ([]model.Transaction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transactions) == 0 {
		return nil, false
	}
	txs := o.transactions
	o.transactions = nil
	o.mutatedAccounts = make(map[string]bool)
	if o.metrics != nil {
		o.metrics.MempoolSize.Set(0)
	}
	return txs, true
}
