package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg, err := NewConfig(srv.URL, "user", "pass")
	require.NoError(t, err)
	cfg.MaxRetries = 0
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, srv
}

func TestClient_GetTip(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "get_tip", req.Method)

		_, user, pass, ok := basicAuth(t, r)
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "pass", pass)

		writeOkResult(t, w, TipPayload{Height: 42, Hash: "ABCDEF"})
	})
	defer srv.Close()

	height, hash, err := client.GetTip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, "abcdef", hash, "hash must be lowercased")
}

func TestClient_GetBlock_NotFound(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeErrResult(t, w, `"NotFound"`)
	})
	defer srv.Close()

	height := uint64(100)
	_, err := client.GetBlock(context.Background(), &height, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_GetBlocks_RejectsOutOfRangeLimit(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be contacted for an invalid limit")
	})
	defer srv.Close()

	_, err := client.GetBlocks(context.Background(), 0, 10, 0, false)
	assert.Error(t, err)

	_, err = client.GetBlocks(context.Background(), 0, 10, 1001, false)
	assert.Error(t, err)
}

func TestClient_Call_TransportFailureClassified(t *testing.T) {
	cfg, err := NewConfig("http://127.0.0.1:0", "", "")
	require.NoError(t, err)
	cfg.MaxRetries = 0
	cfg.ConnectionTimeout = 1
	cfg.RequestTimeout = 1
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.GetTip(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func basicAuth(t *testing.T, r *http.Request) (string, string, string, bool) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	return r.Method, user, pass, ok
}

func writeOkResult(t *testing.T, w http.ResponseWriter, payload any) {
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

func writeErrResult(t *testing.T, w http.ResponseWriter, errText string) {
	t.Helper()
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  map[string]any{"Err": json.RawMessage(errText)},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}
