package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mwexplorer/chainstate/internal/chain"
)

// BlockchainBySlug looks up one blockchain's configuration row.
func (s *Store) BlockchainBySlug(ctx context.Context, slug string) (*chain.Blockchain, error) {
	var b chain.Blockchain
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, archive, load_progress, node_url, node_user, node_password,
		       significant_reorg_threshold, created_at, updated_at
		FROM blockchains WHERE slug = $1
	`, slug).Scan(&b.ID, &b.Slug, &b.Archive, &b.LoadProgress, &b.NodeURL, &b.NodeUser, &b.NodePassword,
		&b.SignificantReorgThreshold, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBlockchains returns every configured blockchain.
func (s *Store) ListBlockchains(ctx context.Context) ([]chain.Blockchain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, archive, load_progress, node_url, node_user, node_password,
		       significant_reorg_threshold, created_at, updated_at
		FROM blockchains ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chain.Blockchain
	for rows.Next() {
		var b chain.Blockchain
		if err := rows.Scan(&b.ID, &b.Slug, &b.Archive, &b.LoadProgress, &b.NodeURL, &b.NodeUser, &b.NodePassword,
			&b.SignificantReorgThreshold, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBlockchain inserts a new blockchain row.
func (s *Store) CreateBlockchain(ctx context.Context, b *chain.Blockchain) (*chain.Blockchain, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO blockchains (slug, archive, load_progress, node_url, node_user, node_password, significant_reorg_threshold)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at, updated_at
	`, b.Slug, b.Archive, decimal.Zero, b.NodeURL, b.NodeUser, b.NodePassword, b.SignificantReorgThreshold,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBlockchain removes a blockchain and, via ON DELETE CASCADE, everything
// derived from it (headers, blocks, kernels, outputs, inputs, reorgs).
func (s *Store) DeleteBlockchain(ctx context.Context, slug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blockchains WHERE slug = $1`, slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLoadProgress persists bootstrap progress, quantized by the caller to the
// blockchain's configured scale before this call.
func (s *Store) SetLoadProgress(ctx context.Context, blockchainID int64, progress decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `UPDATE blockchains SET load_progress = $1, updated_at = NOW() WHERE id = $2`, progress, blockchainID)
	return err
}

// Tip returns the current chain tip: the highest-height main-chain block.
func (s *Store) Tip(ctx context.Context, blockchainID int64) (*chain.Block, error) {
	var b chain.Block
	err := s.pool.QueryRow(ctx, `
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE blockchain_id = $1 AND reorg_id IS NULL
		ORDER BY height DESC LIMIT 1
	`, blockchainID).Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBlocksOptions configures the paginated block listing behind
// GET /api/blockchains/{slug}/blocks/.
type ListBlocksOptions struct {
	IncludeReorgs bool
	Limit         int
	Offset        int
}

// ListBlocks returns a paginated page of blocks, newest height first. Blocks on
// demoted branches are excluded unless opts.IncludeReorgs is set.
func (s *Store) ListBlocks(ctx context.Context, blockchainID int64, opts ListBlocksOptions) ([]chain.Block, int64, error) {
	branchFilter := "AND reorg_id IS NULL"
	if opts.IncludeReorgs {
		branchFilter = ""
	}

	var total int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM blocks WHERE blockchain_id = $1 %s`, branchFilter)
	if err := s.pool.QueryRow(ctx, countSQL, blockchainID).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL := fmt.Sprintf(`
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE blockchain_id = $1 %s
		ORDER BY height DESC
		LIMIT $2 OFFSET $3
	`, branchFilter)
	rows, err := s.pool.Query(ctx, listSQL, blockchainID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	blocks := make([]chain.Block, 0, opts.Limit)
	for rows.Next() {
		var b chain.Block
		if err := rows.Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, b)
	}
	return blocks, total, rows.Err()
}

// BlockByHeightOnMainChain is the height-keyed counterpart of BlockByHash for
// the block-detail endpoint's "heightOrHash" path parameter.
func (s *Store) BlockByHeightOnMainChain(ctx context.Context, blockchainID, height int64) (*chain.Block, error) {
	return mainChainBlockAtHeight(ctx, s.pool.Pool, blockchainID, height)
}

// BlockHeader fetches one header by id.
func (s *Store) BlockHeader(ctx context.Context, id int64) (*chain.BlockHeader, error) {
	var h chain.BlockHeader
	err := s.pool.QueryRow(ctx, `
		SELECT id, blockchain_id, version, output_root, range_proof_root, kernel_root,
		       kernel_mmr_size, output_mmr_size, nonce, edge_bits, cuckoo_solution,
		       secondary_scaling, total_difficulty, total_kernel_offset
		FROM block_headers WHERE id = $1
	`, id).Scan(&h.ID, &h.BlockchainID, &h.Version, &h.OutputRoot, &h.RangeProofRoot, &h.KernelRoot,
		&h.KernelMMRSize, &h.OutputMMRSize, &h.Nonce, &h.EdgeBits, &h.CuckooSolution,
		&h.SecondaryScaling, &h.TotalDifficulty, &h.TotalKernelOffset)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// KernelsForBlock, OutputsForBlock and InputsForBlockRead back the block-detail endpoint.
func (s *Store) KernelsForBlock(ctx context.Context, blockHash string) ([]chain.Kernel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, block_hash, features, fee, fee_shift, lock_height, excess, excess_sig FROM kernels WHERE block_hash = $1`, blockHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chain.Kernel
	for rows.Next() {
		var k chain.Kernel
		if err := rows.Scan(&k.ID, &k.BlockHash, &k.Features, &k.Fee, &k.FeeShift, &k.LockHeight, &k.Excess, &k.ExcessSig); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) OutputsForBlock(ctx context.Context, blockHash string) ([]chain.Output, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, block_hash, output_type, commitment, spent, proof, proof_hash, merkle_proof, mmr_index FROM outputs WHERE block_hash = $1`, blockHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chain.Output
	for rows.Next() {
		var o chain.Output
		if err := rows.Scan(&o.ID, &o.BlockHash, &o.OutputType, &o.Commitment, &o.Spent, &o.Proof, &o.ProofHash, &o.MerkleProof, &o.MMRIndex); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) InputsForBlockRead(ctx context.Context, blockHash string) ([]chain.Input, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, block_hash, commitment, output_id FROM inputs WHERE block_hash = $1`, blockHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chain.Input
	for rows.Next() {
		var in chain.Input
		if err := rows.Scan(&in.ID, &in.BlockHash, &in.Commitment, &in.OutputID); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// OutputByCommitment and KernelByExcess back commitment/excess search.
func (s *Store) OutputByCommitment(ctx context.Context, blockchainID int64, commitment string) ([]chain.Output, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.block_hash, o.output_type, o.commitment, o.spent, o.proof, o.proof_hash, o.merkle_proof, o.mmr_index
		FROM outputs o JOIN blocks b ON b.hash = o.block_hash
		WHERE b.blockchain_id = $1 AND o.commitment = $2
	`, blockchainID, commitment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chain.Output
	for rows.Next() {
		var o chain.Output
		if err := rows.Scan(&o.ID, &o.BlockHash, &o.OutputType, &o.Commitment, &o.Spent, &o.Proof, &o.ProofHash, &o.MerkleProof, &o.MMRIndex); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) KernelByExcess(ctx context.Context, blockchainID int64, excess string) (*chain.Kernel, error) {
	var k chain.Kernel
	err := s.pool.QueryRow(ctx, `
		SELECT k.id, k.block_hash, k.features, k.fee, k.fee_shift, k.lock_height, k.excess, k.excess_sig
		FROM kernels k JOIN blocks b ON b.hash = k.block_hash
		WHERE b.blockchain_id = $1 AND k.excess = $2
	`, blockchainID, excess).Scan(&k.ID, &k.BlockHash, &k.Features, &k.Fee, &k.FeeShift, &k.LockHeight, &k.Excess, &k.ExcessSig)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListReorgsOptions configures the reorg listing endpoint.
type ListReorgsOptions struct {
	SignificantOnly bool
	Threshold       int
	Limit           int
	Offset          int
}

func (s *Store) ListReorgs(ctx context.Context, blockchainID int64, opts ListReorgsOptions) ([]chain.Reorg, int64, error) {
	havingClause := ""
	args := []any{blockchainID}
	if opts.SignificantOnly {
		havingClause = "AND (end_height - start_height + 1) >= $2"
		args = append(args, opts.Threshold)
	}

	var total int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM reorgs WHERE blockchain_id = $1 %s`, havingClause)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, opts.Limit, opts.Offset)
	limitIdx := len(args) - 1
	offsetIdx := len(args)
	listSQL := fmt.Sprintf(`
		SELECT id, blockchain_id, start_reorg_block_hash, end_reorg_block_hash, start_main_block_hash, start_height, end_height, created_at
		FROM reorgs WHERE blockchain_id = $1 %s
		ORDER BY start_height DESC
		LIMIT $%d OFFSET $%d
	`, havingClause, limitIdx, offsetIdx)

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []chain.Reorg
	for rows.Next() {
		var r chain.Reorg
		if err := rows.Scan(&r.ID, &r.BlockchainID, &r.StartReorgBlockHash, &r.EndReorgBlockHash, &r.StartMainBlockHash, &r.StartHeight, &r.EndHeight, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// MissingHeights returns the heights in [start, end] with no main-chain block,
// used by the Bootstrap Loader to compute its work list.
func (s *Store) MissingHeights(ctx context.Context, blockchainID, start, end int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h FROM generate_series($2::bigint, $3::bigint) AS h
		WHERE NOT EXISTS (
			SELECT 1 FROM blocks WHERE blockchain_id = $1 AND height = h AND reorg_id IS NULL
		)
	`, blockchainID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SignificantReorgStartHeights returns the start heights of reorgs meeting or
// exceeding threshold, for the `reorgs` search keyword.
func (s *Store) SignificantReorgStartHeights(ctx context.Context, blockchainID int64, threshold int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_height FROM reorgs
		WHERE blockchain_id = $1 AND (end_height - start_height + 1) >= $2
		ORDER BY start_height DESC
	`, blockchainID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountComparator is one of the compound count-search operators.
type CountComparator string

const (
	CmpEq CountComparator = "="
	CmpLt CountComparator = "<"
	CmpGt CountComparator = ">"
	CmpLe CountComparator = "<="
	CmpGe CountComparator = ">="
)

// CountField is the block column a compound count search filters on.
type CountField string

const (
	FieldInputs  CountField = "input_count"
	FieldOutputs CountField = "output_count"
	FieldKernels CountField = "kernel_count"
)

// BlocksByCount returns main-chain blocks whose input/output/kernel count
// satisfies a compound search comparison, e.g. "outputs > 5".
func (s *Store) BlocksByCount(ctx context.Context, blockchainID int64, field CountField, cmp CountComparator, n int, limit, offset int) ([]chain.Block, int64, error) {
	sqlCmp := string(cmp)
	column := string(field)

	var total int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM blocks WHERE blockchain_id = $1 AND reorg_id IS NULL AND %s %s $2`, column, sqlCmp)
	if err := s.pool.QueryRow(ctx, countSQL, blockchainID, n).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL := fmt.Sprintf(`
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE blockchain_id = $1 AND reorg_id IS NULL AND %s %s $2
		ORDER BY height DESC
		LIMIT $3 OFFSET $4
	`, column, sqlCmp)
	rows, err := s.pool.Query(ctx, listSQL, blockchainID, n, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	blocks := make([]chain.Block, 0, limit)
	for rows.Next() {
		var b chain.Block
		if err := rows.Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, b)
	}
	return blocks, total, rows.Err()
}

// CheckHealth reports whether the database is reachable.
func (s *Store) CheckHealth(ctx context.Context) error {
	var result int
	return s.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
}
