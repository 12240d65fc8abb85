package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/util"
)

// quantizeDown rounds a percentage value down (toward zero) to scale decimal
// places, per the fixed-point ROUND_DOWN requirement: progress must never be
// reported higher than truly reached.
func quantizeDown(pct decimal.Decimal, scale int32) decimal.Decimal {
	return pct.Truncate(scale)
}

// BootstrapProgress is reported periodically while a bootstrap job runs.
type BootstrapProgress struct {
	BlockchainSlug string
	Percent        decimal.Decimal
}

// RunBootstrap implements the Bootstrap Loader (4.8): descending-height
// processing of every missing height in [startHeight, endHeight], with
// reorg-checking disabled after 1000 checked heights as a performance bound.
func (e *Engine) RunBootstrap(ctx context.Context, bc *chain.Blockchain, startHeight, endHeight int64, skipReorgCheck bool, onProgress func(BootstrapProgress)) error {
	missing, err := e.store.MissingHeights(ctx, bc.ID, startHeight, endHeight)
	if err != nil {
		return fmt.Errorf("compute missing heights: %w", err)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] > missing[j] })

	total := len(missing)
	if total == 0 {
		return e.finalizeProgress(ctx, bc)
	}

	visited := make(map[int64]bool)
	reorgCheckEnabled := !skipReorgCheck
	checkedHeights := 0
	processed := 0

	scale := bc.ProgressScale()

	// The prefetch worker pool (4.8) only reads from the node into buf ahead
	// of this loop; the write+detect loop below stays single-threaded per
	// blockchain so reorg detection and progress accounting are unaffected.
	buf := e.prefetchMissing(ctx, bc, missing, e.prefetchConcurrency)

	for _, h := range missing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if visited[h] {
			processed++
			continue
		}

		var block *chain.Block
		var err error
		if payload, ok := buf.take(uint64(h)); ok {
			block, _, err = e.writeBlockFromPayload(ctx, bc, &payload)
		} else {
			block, _, err = e.writeBlock(ctx, bc, uint64(h), true)
		}
		if err != nil {
			if rpc.IsNotFound(err) {
				util.Info("node tail ended before requested height", "blockchain", bc.Slug, "height", h)
				break
			}
			return fmt.Errorf("write block at height %d: %w", h, err)
		}
		visited[h] = true
		processed++

		if reorgCheckEnabled {
			_, detectedVisited, err := e.detectBootstrapReorg(ctx, bc, block, startHeight)
			if err != nil {
				return fmt.Errorf("detect reorg at height %d: %w", h, err)
			}
			for dv := range detectedVisited {
				visited[dv] = true
			}
			checkedHeights++
			if checkedHeights > 1000 {
				reorgCheckEnabled = false
				util.Info("disabling reorg checks for remainder of bootstrap run", "blockchain", bc.Slug)
			}
		}

		if processed%50 == 0 || processed == total {
			raw := decimal.NewFromInt(int64(processed)).Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100))
			pct := quantizeDown(raw, scale)
			if err := e.store.SetLoadProgress(ctx, bc.ID, pct); err != nil {
				util.Warn("failed to persist bootstrap progress", "blockchain", bc.Slug, "error", err.Error())
			}
			progress := BootstrapProgress{BlockchainSlug: bc.Slug, Percent: pct}
			e.sink.Publish(Event{Kind: EventBlockchainProgress, BlockchainSlug: bc.Slug, Payload: progress})
			if onProgress != nil {
				onProgress(progress)
			}
		}
	}

	return e.finalizeProgress(ctx, bc)
}

func (e *Engine) finalizeProgress(ctx context.Context, bc *chain.Blockchain) error {
	full := quantizeDown(decimal.NewFromInt(100), bc.ProgressScale())
	return e.store.SetLoadProgress(ctx, bc.ID, full)
}
