//go:build integration

package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAccept_SimpleLiveReorg exercises S1 end-to-end through Accept: a block
// accepted at a height that already has a different main-chain block must
// demote the old one, promote the new one, and publish EventReorged — driven
// by the live-ingress entrypoint itself, not by calling detectLiveReorg
// directly against hand-seeded rows.
func TestAccept_SimpleLiveReorg(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	bc := createTestBlockchain(t, s, "grin-main")

	node := newFakeNode(blockPayload(100, "h100", ""))
	srv := node.start(t)
	defer srv.Close()
	bc.NodeURL = srv.URL

	sink := &recordingSink{}
	e := NewEngine(s)
	e.SetEventSink(sink)

	require.NoError(t, e.Accept(ctx, bc, AcceptedNotification{Height: 100, Hash: "h100"}))
	last, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, EventNewBlock, last.Kind)

	node.put(blockPayload(101, "h101a", "h100"))
	require.NoError(t, e.Accept(ctx, bc, AcceptedNotification{Height: 101, Hash: "h101a"}))
	last, ok = sink.last()
	require.True(t, ok)
	assert.Equal(t, EventNewBlock, last.Kind)

	// The node now reports a different block at the same height: a
	// competing branch was accepted instead of the one we already stored.
	node.put(blockPayload(101, "h101b", "h100"))
	require.NoError(t, e.Accept(ctx, bc, AcceptedNotification{Height: 101, Hash: "h101b"}))

	last, ok = sink.last()
	require.True(t, ok)
	assert.Equal(t, EventReorged, last.Kind)

	demoted, err := s.BlockByHash(ctx, "h101a")
	require.NoError(t, err)
	assert.False(t, demoted.OnMainChain())

	promoted, err := s.BlockByHash(ctx, "h101b")
	require.NoError(t, err)
	assert.True(t, promoted.OnMainChain())
}

// TestAccept_IdempotentDuplicate exercises S3: two identical accepted
// notifications for the same height must leave exactly one block row and
// cause no reorg.
func TestAccept_IdempotentDuplicate(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	bc := createTestBlockchain(t, s, "grin-main")

	node := newFakeNode(blockPayload(100, "h100", ""))
	srv := node.start(t)
	defer srv.Close()
	bc.NodeURL = srv.URL

	sink := &recordingSink{}
	e := NewEngine(s)
	e.SetEventSink(sink)

	require.NoError(t, e.Accept(ctx, bc, AcceptedNotification{Height: 100, Hash: "h100"}))
	require.NoError(t, e.Accept(ctx, bc, AcceptedNotification{Height: 100, Hash: "h100"}))

	block, err := s.MainChainBlockAtHeight(ctx, bc.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, "h100", block.Hash)
	assert.True(t, block.OnMainChain(), "a re-announced duplicate must never be treated as a reorg")
}
