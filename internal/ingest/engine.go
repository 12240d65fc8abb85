// Package ingest implements the chain-state engine: fetching blocks from a
// node, writing them transactionally, detecting and repairing reorgs, and
// coordinating bootstrap and live ingestion per blockchain.
package ingest

import (
	"fmt"
	"sync"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/store"
	"github.com/mwexplorer/chainstate/internal/util"
)

// Engine owns the per-blockchain node clients and caches and exposes the
// write/detect/repair operations that the Job Supervisor and the live-ingress
// HTTP handler call into. One Engine instance is shared across every
// blockchain in the process; per-blockchain state lives in the collaborators
// map, never in package-level globals.
type Engine struct {
	store *store.Store
	sink  EventSink

	prefetchConcurrency int

	mu                sync.Mutex
	collaboratorsByID map[int64]*blockchainCollaborators
}

type blockchainCollaborators struct {
	client *rpc.Client
	cache  *blockCache
}

func NewEngine(s *store.Store) *Engine {
	return &Engine{
		store:               s,
		sink:                noopSink{},
		prefetchConcurrency: defaultPrefetchConcurrency,
		collaboratorsByID:   make(map[int64]*blockchainCollaborators),
	}
}

// SetPrefetchConcurrency overrides the bootstrap prefetch worker pool's
// default size (4.8). n <= 0 is ignored.
func (e *Engine) SetPrefetchConcurrency(n int) {
	if n <= 0 {
		return
	}
	e.prefetchConcurrency = n
}

// SetEventSink wires the publisher used for post-commit notifications. Called
// once at startup with the WebSocket hub.
func (e *Engine) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	e.sink = sink
}

// collaborators returns (creating if necessary) the node client and cache for
// one blockchain, so that a new node descriptor on a re-created blockchain
// never leaks stale connections from a deleted one with the same id.
func (e *Engine) collaborators(bc *chain.Blockchain) (*rpc.Client, *blockCache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.collaboratorsByID[bc.ID]
	if ok {
		return existing.client, existing.cache, nil
	}

	cfg, err := rpc.NewConfig(bc.NodeURL, bc.NodeUser, bc.NodePassword)
	if err != nil {
		return nil, nil, fmt.Errorf("build node config for %s: %w", bc.Slug, err)
	}
	client, err := rpc.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build node client for %s: %w", bc.Slug, err)
	}

	created := &blockchainCollaborators{client: client, cache: newBlockCache(client)}
	e.collaboratorsByID[bc.ID] = created
	util.Info("node client ready", "blockchain", bc.Slug)
	return created.client, created.cache, nil
}

// Forget drops a blockchain's cached collaborators, called when a blockchain
// is deleted so its node connection isn't kept alive indefinitely.
func (e *Engine) Forget(blockchainID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.collaboratorsByID, blockchainID)
}

// PublishBlockchainDeleted notifies subscribers once a delete job's cascade
// has committed.
func (e *Engine) PublishBlockchainDeleted(slug string) {
	e.sink.Publish(Event{Kind: EventBlockchainDeleted, BlockchainSlug: slug})
}
