package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/ingest"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/store"
)

var (
	hashRegex       = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	commitmentRegex = regexp.MustCompile(`^[0-9a-fA-F]{66}$`)
	countSearchRe   = regexp.MustCompile(`^(inputs|outputs|kernels)\s*(=|<=|>=|<|>)\s*(\d+)$`)
)

// blockchainFromSlug resolves the {slug} path parameter, writing a 404 and
// returning ok=false on failure.
func (s *Server) blockchainFromSlug(w http.ResponseWriter, r *http.Request) (*chain.Blockchain, bool) {
	slug := chi.URLParam(r, "slug")
	bc, err := s.store.BlockchainBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, "blockchain not found")
		return nil, false
	}
	if err != nil {
		writeInternalError(w, err)
		return nil, false
	}
	return bc, true
}

func (s *Server) handleListBlockchains(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListBlockchains(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createBlockchainRequest struct {
	Slug                      string `json:"slug"`
	Archive                   bool   `json:"archive"`
	NodeURL                   string `json:"node_url"`
	NodeUser                  string `json:"node_user"`
	NodePassword              string `json:"node_password"`
	SignificantReorgThreshold int    `json:"significant_reorg_threshold"`
}

func (s *Server) handleCreateBlockchain(w http.ResponseWriter, r *http.Request) {
	var req createBlockchainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Slug == "" || req.NodeURL == "" {
		writeBadRequest(w, "slug and node_url are required")
		return
	}
	if req.SignificantReorgThreshold <= 0 {
		req.SignificantReorgThreshold = s.config.SignificantReorgThresholdDefault
	}

	bc := &chain.Blockchain{
		Slug:                      req.Slug,
		Archive:                   req.Archive,
		NodeURL:                   req.NodeURL,
		NodeUser:                  req.NodeUser,
		NodePassword:              req.NodePassword,
		SignificantReorgThreshold: req.SignificantReorgThreshold,
	}
	created, err := s.store.CreateBlockchain(r.Context(), bc)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteBlockchain(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}

	s.supervisor.EnqueueDelete(bc, func(ctx context.Context) error {
		if err := s.store.DeleteBlockchain(ctx, bc.Slug); err != nil {
			return err
		}
		s.engine.Forget(bc.ID)
		s.engine.PublishBlockchainDeleted(bc.Slug)
		return nil
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"slug": bc.Slug, "status": "deleting"})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	tip, err := s.store.Tip(r.Context(), bc.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"slug":          bc.Slug,
			"height":        nil,
			"hash":          nil,
			"load_progress": bc.LoadProgress,
		})
		return
	}
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slug":          bc.Slug,
		"height":        tip.Height,
		"hash":          tip.Hash,
		"load_progress": bc.LoadProgress,
	})
}

// handleListBlocks implements GET /api/blockchains/{slug}/blocks/ including
// the search syntax of 4.11: a single term of hash|height|commit_or_excess,
// the reserved keyword "reorgs", or a compound "{inputs|outputs|kernels}
// {cmp} {n}". Mixing kinds is a 400.
func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r, 25, 200)
	search := strings.TrimSpace(r.URL.Query().Get("q"))

	if search == "" {
		includeReorgs := r.URL.Query().Get("include_reorgs") == "1"
		blocks, total, err := s.store.ListBlocks(r.Context(), bc.ID, store.ListBlocksOptions{
			IncludeReorgs: includeReorgs, Limit: limit, Offset: offset,
		})
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewPaginatedResponse(blocks, total, limit, offset))
		return
	}

	if search == "reorgs" {
		heights, err := s.store.SignificantReorgStartHeights(r.Context(), bc.ID, bc.SignificantReorgThreshold)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"heights": heights})
		return
	}

	if m := countSearchRe.FindStringSubmatch(search); m != nil {
		field := map[string]store.CountField{"inputs": store.FieldInputs, "outputs": store.FieldOutputs, "kernels": store.FieldKernels}[m[1]]
		n, _ := strconv.Atoi(m[3])
		blocks, total, err := s.store.BlocksByCount(r.Context(), bc.ID, field, store.CountComparator(m[2]), n, limit, offset)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewPaginatedResponse(blocks, total, limit, offset))
		return
	}

	if height, err := strconv.ParseInt(search, 10, 64); err == nil && height >= 0 {
		block, err := s.store.BlockByHeightOnMainChain(r.Context(), bc.ID, height)
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "block not found")
			return
		}
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []chain.Block{*block})
		return
	}

	if hashRegex.MatchString(search) {
		block, err := s.store.BlockByHash(r.Context(), search)
		if errors.Is(err, store.ErrNotFound) || (err == nil && block.BlockchainID != bc.ID) {
			writeJSON(w, http.StatusOK, []chain.Block{})
			return
		}
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []chain.Block{*block})
		return
	}

	if commitmentRegex.MatchString(search) {
		outputs, err := s.store.OutputByCommitment(r.Context(), bc.ID, search)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		if len(outputs) > 0 {
			writeJSON(w, http.StatusOK, outputs)
			return
		}
		kernel, err := s.store.KernelByExcess(r.Context(), bc.ID, search)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, []chain.Output{})
			return
		}
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, kernel)
		return
	}

	writeBadRequest(w, "unrecognized search term: expected height, 66-hex commitment/excess, 'reorgs', or a count comparison")
}

// blockDetail is the assembled response for GET .../blocks/{heightOrHash}.
type blockDetail struct {
	chain.Block
	Header  *chain.BlockHeader `json:"header"`
	Kernels []chain.Kernel     `json:"kernels"`
	Outputs []chain.Output     `json:"outputs"`
	Inputs  []chain.Input      `json:"inputs"`
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	param := chi.URLParam(r, "heightOrHash")

	var block *chain.Block
	if height, err := strconv.ParseInt(param, 10, 64); err == nil && height >= 0 {
		block, err = s.store.BlockByHeightOnMainChain(r.Context(), bc.ID, height)
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "block not found")
			return
		}
		if err != nil {
			writeInternalError(w, err)
			return
		}
	} else {
		if !hashRegex.MatchString(param) {
			writeBadRequest(w, "expected a block height or 64-hex hash")
			return
		}
		found, ferr := s.store.BlockByHash(r.Context(), param)
		if errors.Is(ferr, store.ErrNotFound) || (ferr == nil && found.BlockchainID != bc.ID) {
			writeNotFound(w, "block not found")
			return
		}
		if ferr != nil {
			writeInternalError(w, ferr)
			return
		}
		block = found
	}

	header, err := s.store.BlockHeader(r.Context(), block.HeaderID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	kernels, err := s.store.KernelsForBlock(r.Context(), block.Hash)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	outputs, err := s.store.OutputsForBlock(r.Context(), block.Hash)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	inputs, err := s.store.InputsForBlockRead(r.Context(), block.Hash)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, blockDetail{Block: *block, Header: header, Kernels: kernels, Outputs: outputs, Inputs: inputs})
}

func (s *Server) handleListReorgs(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	limit, offset := parsePagination(r, 25, 200)
	significantOnly := r.URL.Query().Get("significant_only") == "1"

	reorgs, total, err := s.store.ListReorgs(r.Context(), bc.ID, store.ListReorgsOptions{
		SignificantOnly: significantOnly,
		Threshold:       bc.SignificantReorgThreshold,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPaginatedResponse(reorgs, total, limit, offset))
}

type acceptedRequest struct {
	Hash string `json:"hash"`
	Data struct {
		Header struct {
			Height    uint64 `json:"height"`
			PrevHash  []byte `json:"prev_hash"`
		} `json:"header"`
	} `json:"data"`
}

func (s *Server) handleAccepted(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	if s.supervisor.InFlight(bc.ID, ingest.TaskDelete) {
		writeNotFound(w, "blockchain delete in flight")
		return
	}

	var req acceptedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.engine.Accept(r.Context(), bc, ingest.AcceptedNotification{Height: req.Data.Header.Height, Hash: req.Hash})
	if err != nil {
		if rpc.IsNotFound(err) {
			writeNotFound(w, "block not found on node")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type bootstrapRequest struct {
	StartHeight    int64 `json:"start_height"`
	EndHeight      int64 `json:"end_height"`
	SkipReorgCheck bool  `json:"skip_reorg_check"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	task := s.supervisor.EnqueueBootstrap(r.Context(), bc, req.StartHeight, req.EndHeight, req.SkipReorgCheck, nil)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleBootstrapAbort(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.blockchainFromSlug(w, r)
	if !ok {
		return
	}
	s.supervisor.Abort(bc.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.CheckHealth(r.Context()); err != nil {
		writeServiceUnavailable(w, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
