//go:build integration

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
)

func createTestBlockchain(t *testing.T, s *Store, slug string) *chain.Blockchain {
	t.Helper()
	bc := &chain.Blockchain{
		Slug:                      slug,
		Archive:                   false,
		NodeURL:                   "http://localhost:3413",
		NodeUser:                  "grin",
		NodePassword:              "secret",
		SignificantReorgThreshold: 2,
	}
	created, err := s.CreateBlockchain(context.Background(), bc)
	require.NoError(t, err)
	return created
}

func headerPayload(height uint64, hash, prevHash string) rpc.HeaderPayload {
	return rpc.HeaderPayload{
		Height:         height,
		Hash:           hash,
		PreviousHash:   prevHash,
		KernelRoot:     hash + "-kernel-root",
		CuckooSolution: []uint64{1, 2, 3},
	}
}

func TestStore_CreateAndFetchBlockchain(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	bc := createTestBlockchain(t, s, "grin-main")
	assert.NotZero(t, bc.ID)

	fetched, err := s.BlockchainBySlug(context.Background(), "grin-main")
	require.NoError(t, err)
	assert.Equal(t, bc.ID, fetched.ID)
	assert.True(t, fetched.LoadProgress.Equal(decimal.Zero))
}

func TestStore_BlockchainBySlug_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := s.BlockchainBySlug(context.Background(), "does-not-exist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_PutBlock_IsIdempotent(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	ins := &BlockInsert{
		Blockchain: bc,
		Header:     headerPayload(100, "aa", ""),
	}

	first, created, err := s.PutBlock(context.Background(), ins)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(100), first.Height)

	second, created, err := s.PutBlock(context.Background(), ins)
	require.NoError(t, err)
	assert.False(t, created, "re-inserting the same hash must be a no-op")
	assert.Equal(t, first.Hash, second.Hash)
}

func TestStore_PutBlock_ResolvesInputOutputLinkage(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	commitment := "c1" + "11111111111111111111111111111111111111111111111111111111111111"

	_, _, err := s.PutBlock(context.Background(), &BlockInsert{
		Blockchain: bc,
		Header:     headerPayload(100, "aa", ""),
		Outputs: []rpc.OutputPayload{
			{OutputType: "Transaction", Commitment: commitment},
		},
	})
	require.NoError(t, err)

	_, _, err = s.PutBlock(context.Background(), &BlockInsert{
		Blockchain: bc,
		Header:     headerPayload(101, "bb", "aa"),
		Inputs: []rpc.InputPayload{
			{Commitment: commitment},
		},
	})
	require.NoError(t, err)

	outputs, err := s.OutputByCommitment(context.Background(), bc.ID, commitment)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].Spent, "spending input must mark the output spent")
}

func TestStore_MissingHeights(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	_, _, err := s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(100, "aa", "")})
	require.NoError(t, err)
	_, _, err = s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(102, "cc", "bb")})
	require.NoError(t, err)

	missing, err := s.MissingHeights(context.Background(), bc.ID, 100, 102)
	require.NoError(t, err)
	assert.Equal(t, []int64{101}, missing)
}

func TestStore_Tip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	_, _, err := s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(100, "aa", "")})
	require.NoError(t, err)
	_, _, err = s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(101, "bb", "aa")})
	require.NoError(t, err)

	tip, err := s.Tip(context.Background(), bc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), tip.Height)
}

func TestStore_ListBlocks_ExcludesDemotedByDefault(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	block, _, err := s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(100, "aa", "")})
	require.NoError(t, err)

	require.NoError(t, s.WithTx(context.Background(), func(tx pgx.Tx) error {
		reorgID, err := s.CreateReorg(context.Background(), tx, &chain.Reorg{
			BlockchainID:        bc.ID,
			StartReorgBlockHash: block.Hash,
			EndReorgBlockHash:   block.Hash,
			StartMainBlockHash:  "replacement",
			StartHeight:         100,
			EndHeight:           100,
		})
		if err != nil {
			return err
		}
		return s.MarkBlockDemoted(context.Background(), tx, block.Hash, reorgID)
	}))

	blocks, total, err := s.ListBlocks(context.Background(), bc.ID, ListBlocksOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, blocks)

	withReorgs, totalWithReorgs, err := s.ListBlocks(context.Background(), bc.ID, ListBlocksOptions{IncludeReorgs: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totalWithReorgs)
	require.Len(t, withReorgs, 1)
	assert.False(t, withReorgs[0].OnMainChain())
}

func TestStore_DeleteBlockchain_CascadesBlocks(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	_, _, err := s.PutBlock(context.Background(), &BlockInsert{Blockchain: bc, Header: headerPayload(100, "aa", "")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBlockchain(context.Background(), bc.Slug))

	_, err = s.BlockchainBySlug(context.Background(), bc.Slug)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_DeleteBlockchain_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	err := s.DeleteBlockchain(context.Background(), "never-existed")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_BlocksByCount(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	_, _, err := s.PutBlock(context.Background(), &BlockInsert{
		Blockchain: bc,
		Header:     headerPayload(100, "aa", ""),
		Outputs:    []rpc.OutputPayload{{OutputType: "Coinbase", Commitment: "c1"}, {OutputType: "Coinbase", Commitment: "c2"}},
	})
	require.NoError(t, err)
	_, _, err = s.PutBlock(context.Background(), &BlockInsert{
		Blockchain: bc,
		Header:     headerPayload(101, "bb", "aa"),
		Outputs:    []rpc.OutputPayload{{OutputType: "Coinbase", Commitment: "c3"}},
	})
	require.NoError(t, err)

	blocks, total, err := s.BlocksByCount(context.Background(), bc.ID, FieldOutputs, CmpGt, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(100), blocks[0].Height)
}

func TestStore_SignificantReorgStartHeights(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	bc := createTestBlockchain(t, s, "grin-main")

	require.NoError(t, s.WithTx(context.Background(), func(tx pgx.Tx) error {
		if _, err := s.CreateReorg(context.Background(), tx, &chain.Reorg{
			BlockchainID:        bc.ID,
			StartReorgBlockHash: "x1",
			EndReorgBlockHash:   "x1",
			StartMainBlockHash:  "y1",
			StartHeight:         50,
			EndHeight:           50,
		}); err != nil {
			return err
		}
		_, err := s.CreateReorg(context.Background(), tx, &chain.Reorg{
			BlockchainID:        bc.ID,
			StartReorgBlockHash: "x2",
			EndReorgBlockHash:   "x4",
			StartMainBlockHash:  "y2",
			StartHeight:         60,
			EndHeight:           62,
		})
		return err
	}))

	heights, err := s.SignificantReorgStartHeights(context.Background(), bc.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{60}, heights)
}
