package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mwexplorer/chainstate/internal/chain"
)

// MainChainBlockAtHeight returns the block currently on the main chain (reorg_id
// IS NULL) at the given height, or ErrNotFound.
func (s *Store) MainChainBlockAtHeight(ctx context.Context, blockchainID, height int64) (*chain.Block, error) {
	return mainChainBlockAtHeight(ctx, s.pool.Pool, blockchainID, height)
}

// MainChainBlockAtHeightTx is the same lookup scoped to an in-flight transaction,
// for use from the reorg detector and applier.
func (s *Store) MainChainBlockAtHeightTx(ctx context.Context, tx pgx.Tx, blockchainID, height int64) (*chain.Block, error) {
	return mainChainBlockAtHeight(ctx, tx, blockchainID, height)
}

func mainChainBlockAtHeight(ctx context.Context, q dbtx, blockchainID, height int64) (*chain.Block, error) {
	var b chain.Block
	err := q.QueryRow(ctx, `
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE blockchain_id = $1 AND height = $2 AND reorg_id IS NULL
	`, blockchainID, height).Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// BlockByHash returns a block regardless of its branch.
func (s *Store) BlockByHash(ctx context.Context, hash string) (*chain.Block, error) {
	return getBlockByHash(ctx, s.pool.Pool, hash)
}

// BlockByHashTx is the same lookup scoped to an in-flight transaction.
func (s *Store) BlockByHashTx(ctx context.Context, tx pgx.Tx, hash string) (*chain.Block, error) {
	return getBlockByHash(ctx, tx, hash)
}

// MarkBlockDemoted labels a main-chain block as belonging to reorgID.
func (s *Store) MarkBlockDemoted(ctx context.Context, tx pgx.Tx, hash string, reorgID int64) error {
	_, err := tx.Exec(ctx, `UPDATE blocks SET reorg_id = $1 WHERE hash = $2`, reorgID, hash)
	return err
}

// ClearBlockReorg promotes a block back onto the main chain. If the reorg it
// previously pointed to ends up referenced by no remaining block, the reorg
// record itself is deleted (absorption).
func (s *Store) ClearBlockReorg(ctx context.Context, tx pgx.Tx, hash string) error {
	var priorReorg *int64
	if err := tx.QueryRow(ctx, `SELECT reorg_id FROM blocks WHERE hash = $1`, hash).Scan(&priorReorg); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE blocks SET reorg_id = NULL WHERE hash = $1`, hash); err != nil {
		return err
	}
	if priorReorg == nil {
		return nil
	}
	var remaining int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM blocks WHERE reorg_id = $1`, *priorReorg).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM reorgs WHERE id = $1`, *priorReorg); err != nil {
			return err
		}
	}
	return nil
}

// CreateReorg inserts a new reorg record and returns its id.
func (s *Store) CreateReorg(ctx context.Context, tx pgx.Tx, r *chain.Reorg) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO reorgs (blockchain_id, start_reorg_block_hash, end_reorg_block_hash, start_main_block_hash, start_height, end_height)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, r.BlockchainID, r.StartReorgBlockHash, r.EndReorgBlockHash, r.StartMainBlockHash, r.StartHeight, r.EndHeight).Scan(&id)
	return id, err
}

// OutputsInHeightRange returns outputs on blocks of the given blockchain whose
// height lies in [start, end], regardless of branch (used by the reorg applier
// to recompute spent state within a demoted range).
func (s *Store) OutputsInHeightRange(ctx context.Context, tx pgx.Tx, blockchainID, start, end int64) ([]chain.Output, error) {
	rows, err := tx.Query(ctx, `
		SELECT o.id, o.block_hash, o.output_type, o.commitment, o.spent, o.proof, o.proof_hash, o.merkle_proof, o.mmr_index
		FROM outputs o
		JOIN blocks b ON b.hash = o.block_hash
		WHERE b.blockchain_id = $1 AND b.height BETWEEN $2 AND $3
	`, blockchainID, start, end)
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

// InputsInHeightRange mirrors OutputsInHeightRange for inputs.
func (s *Store) InputsInHeightRange(ctx context.Context, tx pgx.Tx, blockchainID, start, end int64) ([]chain.Input, error) {
	rows, err := tx.Query(ctx, `
		SELECT i.id, i.block_hash, i.commitment, i.output_id
		FROM inputs i
		JOIN blocks b ON b.hash = i.block_hash
		WHERE b.blockchain_id = $1 AND b.height BETWEEN $2 AND $3
	`, blockchainID, start, end)
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

// SetOutputSpent updates one output's spent flag.
func (s *Store) SetOutputSpent(ctx context.Context, tx pgx.Tx, outputID int64, spent bool) error {
	_, err := tx.Exec(ctx, `UPDATE outputs SET spent = $1 WHERE id = $2`, spent, outputID)
	return err
}

// SetInputOutput points an input at its resolved output (or clears it to NULL).
func (s *Store) SetInputOutput(ctx context.Context, tx pgx.Tx, inputID int64, outputID *int64) error {
	_, err := tx.Exec(ctx, `UPDATE inputs SET output_id = $1 WHERE id = $2`, outputID, inputID)
	return err
}

// MainChainOutputByCommitment finds a main-chain output for Phase B/C repair.
func (s *Store) MainChainOutputByCommitment(ctx context.Context, tx pgx.Tx, blockchainID int64, commitment string) (*chain.Output, error) {
	var o chain.Output
	err := tx.QueryRow(ctx, `
		SELECT o.id, o.block_hash, o.output_type, o.commitment, o.spent, o.proof, o.proof_hash, o.merkle_proof, o.mmr_index
		FROM outputs o
		JOIN blocks b ON b.hash = o.block_hash
		WHERE b.blockchain_id = $1 AND b.reorg_id IS NULL AND o.commitment = $2
		LIMIT 1
	`, blockchainID, commitment).Scan(&o.ID, &o.BlockHash, &o.OutputType, &o.Commitment, &o.Spent, &o.Proof, &o.ProofHash, &o.MerkleProof, &o.MMRIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MainChainBlocksFromHeight lists main-chain blocks at or above a height,
// ascending, for Phase C's new-main repair walk.
func (s *Store) MainChainBlocksFromHeight(ctx context.Context, tx pgx.Tx, blockchainID, fromHeight int64) ([]chain.Block, error) {
	rows, err := tx.Query(ctx, `
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE blockchain_id = $1 AND height >= $2 AND reorg_id IS NULL
		ORDER BY height ASC
	`, blockchainID, fromHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chain.Block
	for rows.Next() {
		var b chain.Block
		if err := rows.Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InputsForBlock lists a single block's inputs, used by Phase C per-block repair.
func (s *Store) InputsForBlock(ctx context.Context, tx pgx.Tx, blockHash string) ([]chain.Input, error) {
	rows, err := tx.Query(ctx, `SELECT id, block_hash, commitment, output_id FROM inputs WHERE block_hash = $1`, blockHash)
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
