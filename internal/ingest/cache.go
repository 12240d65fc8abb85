package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwexplorer/chainstate/internal/rpc"
)

// blockCache holds the most recently fetched window of block payloads for one
// node. It is held in the Engine's per-blockchain collaborators map — never a
// package-level global — so that two blockchains never share or invalidate
// each other's state.
type blockCache struct {
	mu     sync.Mutex
	client *rpc.Client
	window map[uint64]rpc.BlockPayload
}

func newBlockCache(client *rpc.Client) *blockCache {
	return &blockCache{client: client, window: make(map[uint64]rpc.BlockPayload)}
}

// get returns the block payload at height, fetching and replacing the cache's
// entire window on a miss.
func (c *blockCache) get(ctx context.Context, height uint64, withProofs bool) (*rpc.BlockPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.window[height]; ok {
		return &b, nil
	}

	start := uint64(0)
	if height >= 999 {
		start = height - 999
	}
	blocks, err := c.client.GetBlocks(ctx, start, height, 1000, withProofs)
	if err != nil {
		return nil, fmt.Errorf("prefetch window [%d,%d]: %w", start, height, err)
	}

	c.window = make(map[uint64]rpc.BlockPayload, len(blocks))
	for _, b := range blocks {
		c.window[b.Header.Height] = b
	}

	b, ok := c.window[height]
	if !ok {
		return nil, rpc.ErrBlockNotInWindow
	}
	return &b, nil
}
