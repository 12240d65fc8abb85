package ingest

import (
	"context"
	"fmt"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/store"
)

// writeBlock implements the Block Writer: fetch (via cache if prefetch is
// requested, else direct), then persist atomically. The caller decides
// whether a cache miss should trigger a full window refetch (bootstrap, where
// sequential descending access makes the window pay for itself) or a direct
// single-block call (live ingress, where the next call is unpredictable).
func (e *Engine) writeBlock(ctx context.Context, bc *chain.Blockchain, height uint64, prefetch bool) (*chain.Block, bool, error) {
	node, cache, err := e.collaborators(bc)
	if err != nil {
		return nil, false, err
	}

	var payload *rpc.BlockPayload
	if prefetch {
		payload, err = cache.get(ctx, height, bc.Archive)
	} else {
		h := height
		payload, err = node.GetBlock(ctx, &h, nil)
	}
	if err != nil {
		return nil, false, err
	}
	return e.writeBlockFromPayload(ctx, bc, payload)
}

// writeBlockFromPayload persists a payload the caller already has in hand,
// whether freshly fetched by writeBlock or handed in by the bootstrap
// prefetch worker pool.
func (e *Engine) writeBlockFromPayload(ctx context.Context, bc *chain.Blockchain, payload *rpc.BlockPayload) (*chain.Block, bool, error) {
	block, created, err := e.store.PutBlock(ctx, &store.BlockInsert{
		Blockchain: bc,
		Header:     payload.Header,
		Kernels:    payload.Kernels,
		Outputs:    payload.Outputs,
		Inputs:     payload.Inputs,
	})
	if err != nil {
		return nil, false, fmt.Errorf("write block at height %d: %w", payload.Header.Height, err)
	}
	return block, created, nil
}
