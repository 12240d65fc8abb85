//go:build integration

package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/store"
)

func commitment(prefix string) string {
	return prefix + "1111111111111111111111111111111111111111111111111111111111111"
}

func header(height uint64, hash, prevHash string) rpc.HeaderPayload {
	return rpc.HeaderPayload{
		Height:         height,
		Hash:           hash,
		PreviousHash:   prevHash,
		KernelRoot:     hash + "-kernel-root",
		CuckooSolution: []uint64{1, 2, 3},
	}
}

func TestDetectLiveReorg_PromotesNewBranchAndDemotesOld(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	bc := createTestBlockchain(t, s, "grin-main")
	e := NewEngine(s)

	ancestor, _, err := s.PutBlock(ctx, &store.BlockInsert{Blockchain: bc, Header: header(100, "a100", "")})
	require.NoError(t, err)

	oldMain, _, err := s.PutBlock(ctx, &store.BlockInsert{Blockchain: bc, Header: header(101, "a101", ancestor.Hash)})
	require.NoError(t, err)

	newBlock, _, err := s.PutBlock(ctx, &store.BlockInsert{Blockchain: bc, Header: header(101, "b101", ancestor.Hash)})
	require.NoError(t, err)

	reorg, err := e.detectLiveReorg(ctx, bc, newBlock, oldMain)
	require.NoError(t, err)
	require.NotNil(t, reorg)
	assert.Equal(t, int64(101), reorg.StartHeight)
	assert.Equal(t, int64(101), reorg.EndHeight)

	demoted, err := s.BlockByHash(ctx, "a101")
	require.NoError(t, err)
	assert.False(t, demoted.OnMainChain())

	promoted, err := s.BlockByHash(ctx, "b101")
	require.NoError(t, err)
	assert.True(t, promoted.OnMainChain())
}

func TestDetectLiveReorg_ReassignsSpentOutputAcrossBranches(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	bc := createTestBlockchain(t, s, "grin-main")
	e := NewEngine(s)

	coin := commitment("c1")

	ancestor, _, err := s.PutBlock(ctx, &store.BlockInsert{Blockchain: bc, Header: header(100, "a100", "")})
	require.NoError(t, err)

	oldMain, _, err := s.PutBlock(ctx, &store.BlockInsert{
		Blockchain: bc,
		Header:     header(101, "a101", ancestor.Hash),
		Outputs:    []rpc.OutputPayload{{OutputType: "Transaction", Commitment: coin}},
	})
	require.NoError(t, err)

	newBlock, _, err := s.PutBlock(ctx, &store.BlockInsert{
		Blockchain: bc,
		Header:     header(101, "b101", ancestor.Hash),
		Inputs:     []rpc.InputPayload{{Commitment: coin}},
	})
	require.NoError(t, err)

	_, err = e.detectLiveReorg(ctx, bc, newBlock, oldMain)
	require.NoError(t, err)

	outputs, err := s.OutputByCommitment(ctx, bc.ID, coin)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].Spent, "output demoted onto the old branch must still resolve as spent via main-chain fallback")
}

func TestDetectLiveReorg_NoOpWhenHashesMatch(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	bc := createTestBlockchain(t, s, "grin-main")
	e := NewEngine(s)

	block, _, err := s.PutBlock(ctx, &store.BlockInsert{Blockchain: bc, Header: header(100, "a100", "")})
	require.NoError(t, err)

	reorg, err := e.detectLiveReorg(ctx, bc, block, block)
	require.NoError(t, err)
	assert.Nil(t, reorg)

	reorg, err = e.detectLiveReorg(ctx, bc, block, nil)
	require.NoError(t, err)
	assert.Nil(t, reorg)
}
