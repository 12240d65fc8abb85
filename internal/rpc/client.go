package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mwexplorer/chainstate/internal/util"
)

// Client speaks JSON-RPC 2.0 over HTTP Basic Auth to one Mimblewimble-family
// full node. No ecosystem client targets this wire shape (the retrieved
// examples only cover Ethereum-style RPC), so the transport is hand-built on
// net/http and encoding/json; the retry/classification/config scaffolding
// around it follows the same shape the wider corpus uses for its RPC clients.
type Client struct {
	httpClient *http.Client
	config     *Config
}

// NewClient dials nothing up front (HTTP is connectionless per-request); it
// only validates configuration and prepares a client with its own transport
// so per-blockchain timeouts are isolated from other blockchains.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: config.ConnectionTimeout}).DialContext,
	}

	util.Info("node client configured", "url_length", len(config.URL))

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		config: config,
	}, nil
}

// GetTip returns the current chain tip the node reports.
func (c *Client) GetTip(ctx context.Context) (uint64, string, error) {
	var tip TipPayload
	if err := c.call(ctx, "get_tip", nil, &tip); err != nil {
		return 0, "", err
	}
	return tip.Height, strings.ToLower(tip.Hash), nil
}

// GetHeader fetches a header by height or hash (exactly one should be set).
func (c *Client) GetHeader(ctx context.Context, height *uint64, hash *string) (*HeaderPayload, error) {
	var header HeaderPayload
	if err := c.call(ctx, "get_header", headerParams(height, hash), &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// GetBlock fetches a full block by height or hash.
func (c *Client) GetBlock(ctx context.Context, height *uint64, hash *string) (*BlockPayload, error) {
	var block BlockPayload
	if err := c.call(ctx, "get_block", headerParams(height, hash), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlocks fetches a contiguous window of blocks, inclusive of start and end,
// bounded by limit (1..1000).
func (c *Client) GetBlocks(ctx context.Context, start, end uint64, limit int, withProofs bool) ([]BlockPayload, error) {
	if limit < 1 || limit > 1000 {
		return nil, fmt.Errorf("limit must be between 1 and 1000, got %d", limit)
	}
	var blocks []BlockPayload
	params := []any{start, end, limit, withProofs}
	if err := c.call(ctx, "get_blocks", params, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// GetKernel looks up a kernel by its excess commitment. Neither the ingestion
// engine nor the HTTP API calls it; the API's excess search reads stored
// kernels (store.KernelByExcess).
func (c *Client) GetKernel(ctx context.Context, excess string) (*KernelPayload, error) {
	var kernel KernelPayload
	if err := c.call(ctx, "get_kernel", []any{excess}, &kernel); err != nil {
		return nil, err
	}
	return &kernel, nil
}

func headerParams(height *uint64, hash *string) []any {
	switch {
	case hash != nil:
		return []any{nil, *hash, nil}
	case height != nil:
		return []any{*height, nil, nil}
	default:
		return []any{nil, nil, nil}
	}
}

// call executes one JSON-RPC round trip with retry, decoding result.Ok into out
// and translating result.Err / transport failures into a classified *Error.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	start := time.Now()

	var decoded bool
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		resp, err := c.roundTrip(reqCtx, method, params)
		if err != nil {
			return err
		}

		if resp.Error != nil {
			return fmt.Errorf("jsonrpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}

		if resp.Result.Err != nil {
			text := strings.Trim(resp.Result.Err.text, `"`)
			if strings.EqualFold(text, "NotFound") || strings.Contains(strings.ToLower(text), "not found") {
				return newError(KindNotFound, method, fmt.Errorf("%s", text))
			}
			return newError(KindUnknown, method, fmt.Errorf("%s", text))
		}

		if resp.Result.Ok == nil {
			return newError(KindUnknown, method, fmt.Errorf("empty result"))
		}

		if out != nil {
			if err := json.Unmarshal(resp.Result.Ok.raw, out); err != nil {
				return newError(KindUnknown, method, fmt.Errorf("decode result: %w", err))
			}
		}
		decoded = true
		return nil
	}

	retryCfg := &retryConfig{maxRetries: c.config.MaxRetries, baseDelay: c.config.RetryBaseDelay}
	err := retryWithBackoff(ctx, retryCfg, operation, util.GlobalLogger, method)

	duration := time.Since(start)

	if err != nil {
		nerr := classifyFinal(err)
		util.RecordRPCError(nerr.Kind.String())
		util.Error("node rpc call failed", "method", method, "error", nerr.Error(), "duration_ms", duration.Milliseconds())
		return nerr
	}

	util.Debug("node rpc call succeeded", "method", method, "duration_ms", duration.Milliseconds(), "decoded", decoded)
	return nil
}

// classifyFinal ensures every error surfaced to callers is a *Error, wrapping
// bare transport/timeout failures as KindTransport.
func classifyFinal(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindTransport, "transport failure", err)
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.User != "" {
		req.SetBasicAuth(c.config.User, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
