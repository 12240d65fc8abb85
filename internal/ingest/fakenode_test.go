//go:build integration

package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwexplorer/chainstate/internal/rpc"
)

// fakeNode is a minimal JSON-RPC node double for exercising Accept and
// RunBootstrap end-to-end, following the same envelope shape as
// internal/rpc/client_test.go's own httptest helpers: {"result":{"Ok": ...}}
// or {"result":{"Err": ...}}.
type fakeNode struct {
	mu     sync.Mutex
	blocks map[uint64]rpc.BlockPayload
}

func newFakeNode(blocks ...rpc.BlockPayload) *fakeNode {
	n := &fakeNode{blocks: make(map[uint64]rpc.BlockPayload)}
	n.set(blocks...)
	return n
}

func (n *fakeNode) set(blocks ...rpc.BlockPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks = make(map[uint64]rpc.BlockPayload, len(blocks))
	for _, b := range blocks {
		n.blocks[b.Header.Height] = b
	}
}

func (n *fakeNode) put(b rpc.BlockPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[b.Header.Height] = b
}

func (n *fakeNode) start(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     int             `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "get_block":
			n.handleGetBlock(t, w, req.Params)
		case "get_blocks":
			n.handleGetBlocks(t, w, req.Params)
		default:
			fakeWriteErr(t, w, `"unsupported method"`)
		}
	}))
}

func (n *fakeNode) handleGetBlock(t *testing.T, w http.ResponseWriter, rawParams json.RawMessage) {
	var params []json.RawMessage
	require.NoError(t, json.Unmarshal(rawParams, &params))
	require.True(t, len(params) >= 1)

	var height uint64
	haveHeight := json.Unmarshal(params[0], &height) == nil

	n.mu.Lock()
	block, ok := n.blocks[height]
	n.mu.Unlock()

	if !haveHeight || !ok {
		fakeWriteErr(t, w, `"NotFound"`)
		return
	}
	fakeWriteOk(t, w, block)
}

func (n *fakeNode) handleGetBlocks(t *testing.T, w http.ResponseWriter, rawParams json.RawMessage) {
	var params []json.RawMessage
	require.NoError(t, json.Unmarshal(rawParams, &params))
	require.True(t, len(params) >= 2)

	var start, end uint64
	require.NoError(t, json.Unmarshal(params[0], &start))
	require.NoError(t, json.Unmarshal(params[1], &end))

	n.mu.Lock()
	_, haveEnd := n.blocks[end]
	var out []rpc.BlockPayload
	if haveEnd {
		for h := start; h <= end; h++ {
			if b, ok := n.blocks[h]; ok {
				out = append(out, b)
			}
		}
	}
	n.mu.Unlock()

	// A real node refuses to serve a window whose upper bound it doesn't
	// have, the same as a single get_block past its tip.
	if !haveEnd {
		fakeWriteErr(t, w, `"NotFound"`)
		return
	}
	fakeWriteOk(t, w, out)
}

func fakeWriteOk(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  map[string]any{"Ok": json.RawMessage(raw)},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func fakeWriteErr(t *testing.T, w http.ResponseWriter, errText string) {
	t.Helper()
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  map[string]any{"Err": json.RawMessage(errText)},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}
