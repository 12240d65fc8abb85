package ingest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/store"
	"github.com/mwexplorer/chainstate/internal/util"
)

// AcceptedNotification is the live-ingress input: a node telling the engine a
// new block was accepted at the given height.
type AcceptedNotification struct {
	Height uint64
	Hash   string
}

// Accept implements Live Ingress (4.9). The caller (the HTTP handler behind
// POST /api/blockchains/{slug}/accepted/) is responsible for the "delete job
// in flight" check before calling this.
func (e *Engine) Accept(ctx context.Context, bc *chain.Blockchain, notif AcceptedNotification) error {
	previous, err := e.store.MainChainBlockAtHeight(ctx, bc.ID, int64(notif.Height))
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("lookup block at height %d: %w", notif.Height, err)
	}
	if err == store.ErrNotFound {
		previous = nil
	}

	newBlock, _, err := e.writeBlock(ctx, bc, notif.Height, false)
	if err != nil {
		return fmt.Errorf("write block at height %d: %w", notif.Height, err)
	}

	switch {
	case previous == nil:
		e.sink.Publish(Event{Kind: EventNewBlock, BlockchainSlug: bc.Slug, Payload: newBlock})
	case previous.Hash == newBlock.Hash:
		// idempotent no-op: the node re-announced a block we already have.
	default:
		if _, err := e.detectLiveReorg(ctx, bc, newBlock, previous); err != nil {
			return fmt.Errorf("detect live reorg at height %d: %w", notif.Height, err)
		}
		e.sink.Publish(Event{Kind: EventReorged, BlockchainSlug: bc.Slug})
	}

	if err := e.opportunisticProgressUpdate(ctx, bc); err != nil {
		util.Warn("opportunistic progress update failed", "blockchain", bc.Slug, "error", err.Error())
	}
	return nil
}

// opportunisticProgressUpdate keeps load_progress near 100% as live blocks
// arrive, without the cost of a full missing-heights scan.
func (e *Engine) opportunisticProgressUpdate(ctx context.Context, bc *chain.Blockchain) error {
	return e.store.SetLoadProgress(ctx, bc.ID, quantizeDown(decimal.NewFromInt(100), bc.ProgressScale()))
}
