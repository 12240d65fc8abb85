package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/store"
	"github.com/mwexplorer/chainstate/internal/util"
)

// detectBootstrapReorg implements the bootstrap-path reorg detector (4.5):
// walk backward from newBlock to the last common ancestor, then forward past
// newBlock while the old main chain still disagrees, writing replacements for
// every divergent height. Returns the constructed Reorg (nil if the chain
// never diverged) and the set of heights it visited, so the bootstrap loop
// can skip them.
func (e *Engine) detectBootstrapReorg(ctx context.Context, bc *chain.Blockchain, newBlock *chain.Block, startHeight int64) (*chain.Reorg, map[int64]bool, error) {
	visited := make(map[int64]bool)

	var demotedBackward []*chain.Block
	cur := newBlock
	startMain := newBlock

	// The backward/forward walks read across many independent block writes
	// (each a write of its own, via writeBlock), so they are not scoped to a
	// single transaction the way one block write is.
	for checked := 0; checked < 1000; checked++ {
		prevHeight := cur.Height - 1
		stored, err := e.store.MainChainBlockAtHeight(ctx, bc.ID, prevHeight)
		switch {
		case err == store.ErrNotFound:
			if prevHeight < startHeight {
				startMain = cur
				goto backwardDone
			}
			written, _, werr := e.writeBlock(ctx, bc, uint64(prevHeight), true)
			if werr != nil {
				if rpc.IsNotFound(werr) {
					startMain = cur
					goto backwardDone
				}
				return nil, nil, fmt.Errorf("backward walk write at %d: %w", prevHeight, werr)
			}
			visited[prevHeight] = true
			cur = written
		case err != nil:
			return nil, nil, fmt.Errorf("backward walk lookup at %d: %w", prevHeight, err)
		default:
			if cur.PreviousHash != nil && stored.Hash == *cur.PreviousHash {
				startMain = stored
				goto backwardDone
			}
			demotedBackward = append(demotedBackward, stored)
			written, _, werr := e.writeBlock(ctx, bc, uint64(prevHeight), true)
			if werr != nil {
				if rpc.IsNotFound(werr) {
					startMain = stored
					goto backwardDone
				}
				return nil, nil, fmt.Errorf("backward walk replacement at %d: %w", prevHeight, werr)
			}
			visited[prevHeight] = true
			cur = written
		}
	}
backwardDone:

	var demotedForward []*chain.Block
	cur = newBlock
	for {
		nextHeight := cur.Height + 1
		stored, err := e.store.MainChainBlockAtHeight(ctx, bc.ID, nextHeight)
		if err == store.ErrNotFound {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("forward walk lookup at %d: %w", nextHeight, err)
		}
		if stored.PreviousHash != nil && *stored.PreviousHash == cur.Hash {
			break
		}
		demotedForward = append(demotedForward, stored)
		written, _, werr := e.writeBlock(ctx, bc, uint64(nextHeight), true)
		if werr != nil {
			if rpc.IsNotFound(werr) {
				break
			}
			return nil, nil, fmt.Errorf("forward walk replacement at %d: %w", nextHeight, werr)
		}
		visited[nextHeight] = true
		cur = written
	}

	demoted := reverseBlocks(demotedBackward)
	demoted = append(demoted, demotedForward...)
	if len(demoted) == 0 {
		return nil, visited, nil
	}

	reorg := &chain.Reorg{
		BlockchainID:        bc.ID,
		StartReorgBlockHash: demoted[0].Hash,
		EndReorgBlockHash:   demoted[len(demoted)-1].Hash,
		StartMainBlockHash:  startMain.Hash,
		StartHeight:         demoted[0].Height,
		EndHeight:           demoted[len(demoted)-1].Height,
	}

	if err := e.createAndApplyReorg(ctx, bc, reorg); err != nil {
		return nil, nil, err
	}
	return reorg, visited, nil
}

func reverseBlocks(in []*chain.Block) []*chain.Block {
	out := make([]*chain.Block, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// detectLiveReorg implements the live-path reorg detector (4.6): called when
// the Block Writer just produced a block whose hash differs from whatever was
// previously main chain at that height.
func (e *Engine) detectLiveReorg(ctx context.Context, bc *chain.Blockchain, newBlock *chain.Block, previousAtHeight *chain.Block) (*chain.Reorg, error) {
	if previousAtHeight == nil || previousAtHeight.Hash == newBlock.Hash {
		return nil, nil
	}

	demoted := []*chain.Block{previousAtHeight}
	newMain := []*chain.Block{newBlock}

	// Main-chain blocks above the new block's height belong to the replaced
	// branch too; they close the demoted set after previousAtHeight.
	var higher []chain.Block
	if err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		var qerr error
		higher, qerr = e.store.MainChainBlocksFromHeight(ctx, tx, bc.ID, newBlock.Height+1)
		return qerr
	}); err != nil {
		return nil, fmt.Errorf("collect main-chain blocks above height %d: %w", newBlock.Height, err)
	}
	for i := range higher {
		demoted = append(demoted, &higher[i])
	}

	ancestorNew := newBlock
	ancestorOld := previousAtHeight
	var err error
	for {
		if ancestorOld == nil || ancestorNew == nil {
			break
		}
		if ancestorOld.Hash == ancestorNew.Hash {
			break
		}
		var nextOld, nextNew *chain.Block
		if ancestorOld.PreviousHash != nil {
			nextOld, err = e.store.BlockByHash(ctx, *ancestorOld.PreviousHash)
			if err == store.ErrNotFound {
				nextOld = nil
			} else if err != nil {
				return nil, fmt.Errorf("walk old ancestor: %w", err)
			}
		}
		if ancestorNew.PreviousHash != nil {
			nextNew, err = e.store.BlockByHash(ctx, *ancestorNew.PreviousHash)
			if err == store.ErrNotFound {
				nextNew = nil
			} else if err != nil {
				return nil, fmt.Errorf("walk new ancestor: %w", err)
			}
		}
		if nextOld == nil || nextNew == nil {
			break
		}
		if nextOld.Hash == nextNew.Hash {
			break
		}
		demoted = append([]*chain.Block{nextOld}, demoted...)
		newMain = append([]*chain.Block{nextNew}, newMain...)
		ancestorOld, ancestorNew = nextOld, nextNew
	}

	reorg := &chain.Reorg{
		BlockchainID:        bc.ID,
		StartReorgBlockHash: demoted[0].Hash,
		EndReorgBlockHash:   demoted[len(demoted)-1].Hash,
		StartMainBlockHash:  newMain[0].Hash,
		StartHeight:         demoted[0].Height,
		EndHeight:           demoted[len(demoted)-1].Height,
	}

	if err := e.createAndApplyReorg(ctx, bc, reorg); err != nil {
		return nil, err
	}
	return reorg, nil
}

// createAndApplyReorg inserts the Reorg record and runs its three repair
// phases inside the same transaction, per 4.7's ordering requirement (Phase B
// before Phase C).
func (e *Engine) createAndApplyReorg(ctx context.Context, bc *chain.Blockchain, r *chain.Reorg) error {
	return e.store.WithTx(ctx, func(tx pgx.Tx) error {
		id, err := e.store.CreateReorg(ctx, tx, r)
		if err != nil {
			return fmt.Errorf("create reorg: %w", err)
		}
		r.ID = id

		if err := e.applyLabelFlip(ctx, tx, bc, r); err != nil {
			return fmt.Errorf("phase A label flip: %w", err)
		}
		if err := e.applyBranchRepair(ctx, tx, bc, r); err != nil {
			return fmt.Errorf("phase B branch repair: %w", err)
		}
		if err := e.applyNewMainRepair(ctx, tx, bc, r); err != nil {
			return fmt.Errorf("phase C new-main repair: %w", err)
		}

		util.RecordReorgDetected(int(r.EndHeight - r.StartHeight + 1))
		if r.Significant(bc.SignificantReorgThreshold) {
			util.Warn("significant reorg detected", "blockchain", bc.Slug, "start_height", r.StartHeight, "end_height", r.EndHeight)
		}
		return nil
	})
}

// applyLabelFlip is Phase A: demote the reorg's range, promote the new main
// chain from start_main_block onward, absorbing or extending any reorg that
// previously covered those heights.
func (e *Engine) applyLabelFlip(ctx context.Context, tx pgx.Tx, bc *chain.Blockchain, r *chain.Reorg) error {
	cur, err := e.store.BlockByHashTx(ctx, tx, r.StartReorgBlockHash)
	if err != nil {
		return err
	}
	for {
		if err := e.store.MarkBlockDemoted(ctx, tx, cur.Hash, r.ID); err != nil {
			return err
		}
		if cur.Hash == r.EndReorgBlockHash {
			break
		}
		next, err := e.store.MainChainBlockAtHeightTx(ctx, tx, bc.ID, cur.Height+1)
		if err == store.ErrNotFound {
			break
		}
		if err != nil {
			return err
		}
		if next.PreviousHash == nil || *next.PreviousHash != cur.Hash {
			break
		}
		cur = next
	}

	promote, err := e.store.BlockByHashTx(ctx, tx, r.StartMainBlockHash)
	if err != nil {
		return err
	}
	for {
		if err := e.store.ClearBlockReorg(ctx, tx, promote.Hash); err != nil {
			return err
		}
		next, err := e.store.MainChainBlockAtHeightTx(ctx, tx, bc.ID, promote.Height+1)
		if err == store.ErrNotFound {
			break
		}
		if err != nil {
			return err
		}
		if next.PreviousHash == nil || *next.PreviousHash != promote.Hash {
			break
		}
		promote = next
	}
	return nil
}

// applyBranchRepair is Phase B: within the demoted range, recompute spent
// flags from same-branch inputs first, then fall back to the main chain for
// inputs whose output never appeared on the demoted branch.
func (e *Engine) applyBranchRepair(ctx context.Context, tx pgx.Tx, bc *chain.Blockchain, r *chain.Reorg) error {
	outputs, err := e.store.OutputsInHeightRange(ctx, tx, bc.ID, r.StartHeight, r.EndHeight)
	if err != nil {
		return err
	}
	inputs, err := e.store.InputsInHeightRange(ctx, tx, bc.ID, r.StartHeight, r.EndHeight)
	if err != nil {
		return err
	}

	inputsByCommitment := make(map[string][]chain.Input, len(inputs))
	for _, in := range inputs {
		inputsByCommitment[in.Commitment] = append(inputsByCommitment[in.Commitment], in)
	}

	seen := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		matches := inputsByCommitment[o.Commitment]
		spent := len(matches) > 0
		if err := e.store.SetOutputSpent(ctx, tx, o.ID, spent); err != nil {
			return err
		}
		for _, in := range matches {
			if err := e.store.SetInputOutput(ctx, tx, in.ID, &o.ID); err != nil {
				return err
			}
			seen[in.Commitment] = true
		}
	}

	for _, in := range inputs {
		if seen[in.Commitment] {
			continue
		}
		mainOut, err := e.store.MainChainOutputByCommitment(ctx, tx, bc.ID, in.Commitment)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.store.SetOutputSpent(ctx, tx, mainOut.ID, false); err != nil {
			return err
		}
		if err := e.store.SetInputOutput(ctx, tx, in.ID, &mainOut.ID); err != nil {
			return err
		}
	}
	return nil
}

// applyNewMainRepair is Phase C: walk the new main chain from start_main_block
// forward, re-marking outputs spent where an input now on the main chain
// consumes them. Runs after Phase B so outputs reset to unspent there are
// correctly re-marked here if the new main chain also spends them.
func (e *Engine) applyNewMainRepair(ctx context.Context, tx pgx.Tx, bc *chain.Blockchain, r *chain.Reorg) error {
	startMain, err := e.store.BlockByHashTx(ctx, tx, r.StartMainBlockHash)
	if err != nil {
		return err
	}

	blocks, err := e.store.MainChainBlocksFromHeight(ctx, tx, bc.ID, startMain.Height)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		inputs, err := e.store.InputsForBlock(ctx, tx, b.Hash)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			out, err := e.store.MainChainOutputByCommitment(ctx, tx, bc.ID, in.Commitment)
			if err == store.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := e.store.SetOutputSpent(ctx, tx, out.ID, true); err != nil {
				return err
			}
			if err := e.store.SetInputOutput(ctx, tx, in.ID, &out.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
