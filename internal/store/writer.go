package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
)

// BlockInsert is the Block Writer's unit of work: one block header plus its
// kernels, outputs and inputs, in wire form.
type BlockInsert struct {
	Blockchain *chain.Blockchain
	Header     rpc.HeaderPayload
	Kernels    []rpc.KernelPayload
	Outputs    []rpc.OutputPayload
	Inputs     []rpc.InputPayload
}

// PutBlock runs the single-block write of 4.4 inside one transaction: header
// upsert, idempotent block insert, and the four-way input/output resolution
// against the main chain. Returns the stored Block and whether it was newly
// created (false means a concurrent writer already inserted this hash).
func (s *Store) PutBlock(ctx context.Context, ins *BlockInsert) (*chain.Block, bool, error) {
	var result *chain.Block
	var created bool

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		block, isNew, err := putBlockTx(ctx, tx, ins)
		result = block
		created = isNew
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// PutBlockTx is the same write scoped to a transaction the caller already
// holds open. The reorg detectors do not use it: they write missing blocks
// through PutBlock, each in its own transaction.
func (s *Store) PutBlockTx(ctx context.Context, tx pgx.Tx, ins *BlockInsert) (*chain.Block, bool, error) {
	return putBlockTx(ctx, tx, ins)
}

func putBlockTx(ctx context.Context, tx pgx.Tx, ins *BlockInsert) (*chain.Block, bool, error) {
	headerID, err := upsertHeader(ctx, tx, ins.Blockchain.ID, ins.Header)
	if err != nil {
		return nil, false, fmt.Errorf("upsert header: %w", err)
	}

	block, isNew, err := insertBlockIfAbsent(ctx, tx, ins.Blockchain.ID, headerID, ins.Header, len(ins.Kernels), len(ins.Outputs), len(ins.Inputs))
	if err != nil {
		return nil, false, fmt.Errorf("insert block: %w", err)
	}
	if !isNew {
		return block, false, nil
	}

	if err := bulkInsertKernels(ctx, tx, block.Hash, ins.Kernels); err != nil {
		return nil, false, fmt.Errorf("insert kernels: %w", err)
	}

	inputCommitments := make([]string, len(ins.Inputs))
	for i, in := range ins.Inputs {
		inputCommitments[i] = in.Commitment
	}
	resolved, err := resolveMainChainOutputs(ctx, tx, ins.Blockchain.ID, inputCommitments)
	if err != nil {
		return nil, false, fmt.Errorf("resolve spent outputs: %w", err)
	}

	spentOutputIDs, err := bulkInsertInputs(ctx, tx, block.Hash, ins.Inputs, resolved)
	if err != nil {
		return nil, false, fmt.Errorf("insert inputs: %w", err)
	}
	if err := markOutputsSpent(ctx, tx, spentOutputIDs); err != nil {
		return nil, false, fmt.Errorf("mark outputs spent: %w", err)
	}

	outputCommitments := make([]string, len(ins.Outputs))
	for i, out := range ins.Outputs {
		outputCommitments[i] = out.Commitment
	}
	waitingInputs, err := mainChainInputsByCommitments(ctx, tx, ins.Blockchain.ID, outputCommitments)
	if err != nil {
		return nil, false, fmt.Errorf("find waiting inputs: %w", err)
	}

	createdOutputIDs, err := bulkInsertOutputs(ctx, tx, block.Hash, ins.Outputs)
	if err != nil {
		return nil, false, fmt.Errorf("insert outputs: %w", err)
	}

	if err := linkWaitingInputs(ctx, tx, waitingInputs, createdOutputIDs); err != nil {
		return nil, false, fmt.Errorf("link waiting inputs: %w", err)
	}

	return block, true, nil
}

func upsertHeader(ctx context.Context, tx pgx.Tx, blockchainID int64, h rpc.HeaderPayload) (int64, error) {
	solution := joinCuckoo(h.CuckooSolution)

	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO block_headers
			(blockchain_id, version, output_root, range_proof_root, kernel_root,
			 kernel_mmr_size, output_mmr_size, nonce, edge_bits, cuckoo_solution,
			 secondary_scaling, total_difficulty, total_kernel_offset)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (blockchain_id, kernel_root, cuckoo_solution) DO UPDATE SET
			blockchain_id = EXCLUDED.blockchain_id
		RETURNING id
	`, blockchainID, h.Version, h.OutputRoot, h.RangeProofRoot, h.KernelRoot,
		h.KernelMMRSize, h.OutputMMRSize, h.Nonce, h.EdgeBits, solution,
		h.SecondaryScaling, h.TotalDifficulty, h.TotalKernelOffset,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func joinCuckoo(solution []uint64) string {
	parts := make([]string, len(solution))
	for i, v := range solution {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// insertBlockIfAbsent attempts the primary-key insert and, on conflict, returns
// the already-stored row unchanged: a unique-constraint hit here is a
// concurrent-writer race, not a bug, so it is treated as idempotent success.
func insertBlockIfAbsent(ctx context.Context, tx pgx.Tx, blockchainID, headerID int64, h rpc.HeaderPayload, kernelCount, outputCount, inputCount int) (*chain.Block, bool, error) {
	var prevHash *string
	if h.PreviousHash != "" {
		prevHash = &h.PreviousHash
	}

	var b chain.Block
	err := tx.QueryRow(ctx, `
		INSERT INTO blocks (hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (hash) DO NOTHING
		RETURNING hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
	`, h.Hash, blockchainID, headerID, h.Height, h.Timestamp, prevHash, inputCount, outputCount, kernelCount,
	).Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, ferr := getBlockByHash(ctx, tx, h.Hash)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &b, true, nil
}

func getBlockByHash(ctx context.Context, q dbtx, hash string) (*chain.Block, error) {
	var b chain.Block
	err := q.QueryRow(ctx, `
		SELECT hash, blockchain_id, header_id, height, timestamp, previous_hash, input_count, output_count, kernel_count, reorg_id, created_at
		FROM blocks WHERE hash = $1
	`, hash).Scan(&b.Hash, &b.BlockchainID, &b.HeaderID, &b.Height, &b.Timestamp, &b.PreviousHash, &b.InputCount, &b.OutputCount, &b.KernelCount, &b.ReorgID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func bulkInsertKernels(ctx context.Context, tx pgx.Tx, blockHash string, kernels []rpc.KernelPayload) error {
	if len(kernels) == 0 {
		return nil
	}
	batch := make([][]any, len(kernels))
	for i, k := range kernels {
		batch[i] = []any{blockHash, k.Features, k.Fee, k.FeeShift, k.LockHeight, k.Excess, k.ExcessSig}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"kernels"},
		[]string{"block_hash", "features", "fee", "fee_shift", "lock_height", "excess", "excess_sig"},
		pgx.CopyFromRows(batch),
	)
	return err
}

// resolveMainChainOutputs maps commitment -> output id for main-chain (reorg IS
// NULL) outputs whose commitment appears in commitments.
func resolveMainChainOutputs(ctx context.Context, q dbtx, blockchainID int64, commitments []string) (map[string]int64, error) {
	result := make(map[string]int64, len(commitments))
	if len(commitments) == 0 {
		return result, nil
	}
	rows, err := q.Query(ctx, `
		SELECT o.commitment, o.id
		FROM outputs o
		JOIN blocks b ON b.hash = o.block_hash
		WHERE b.blockchain_id = $1 AND b.reorg_id IS NULL AND o.commitment = ANY($2)
	`, blockchainID, commitments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var commitment string
		var id int64
		if err := rows.Scan(&commitment, &id); err != nil {
			return nil, err
		}
		result[commitment] = id
	}
	return result, rows.Err()
}

func bulkInsertInputs(ctx context.Context, tx pgx.Tx, blockHash string, inputs []rpc.InputPayload, resolved map[string]int64) ([]int64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	var spentIDs []int64
	batch := make([][]any, len(inputs))
	for i, in := range inputs {
		var outputID *int64
		if id, ok := resolved[in.Commitment]; ok {
			v := id
			outputID = &v
			spentIDs = append(spentIDs, id)
		}
		batch[i] = []any{blockHash, in.Commitment, outputID}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"inputs"},
		[]string{"block_hash", "commitment", "output_id"},
		pgx.CopyFromRows(batch),
	)
	if err != nil {
		return nil, err
	}
	return spentIDs, nil
}

func markOutputsSpent(ctx context.Context, tx pgx.Tx, outputIDs []int64) error {
	if len(outputIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outputs SET spent = TRUE WHERE id = ANY($1)`, outputIDs)
	return err
}

type waitingInput struct {
	ID         int64
	Commitment string
}

// mainChainInputsByCommitments finds inputs already on the main chain whose
// commitment matches one of this block's about-to-be-created outputs: these
// were written before their creating output was seen, and need to be
// backfilled once the output exists.
func mainChainInputsByCommitments(ctx context.Context, q dbtx, blockchainID int64, commitments []string) ([]waitingInput, error) {
	if len(commitments) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		SELECT i.id, i.commitment
		FROM inputs i
		JOIN blocks b ON b.hash = i.block_hash
		WHERE b.blockchain_id = $1 AND b.reorg_id IS NULL AND i.commitment = ANY($2) AND i.output_id IS NULL
	`, blockchainID, commitments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []waitingInput
	for rows.Next() {
		var w waitingInput
		if err := rows.Scan(&w.ID, &w.Commitment); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func bulkInsertOutputs(ctx context.Context, tx pgx.Tx, blockHash string, outputs []rpc.OutputPayload) (map[string]int64, error) {
	created := make(map[string]int64, len(outputs))
	for _, o := range outputs {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO outputs (block_hash, output_type, commitment, spent, proof, proof_hash, merkle_proof, mmr_index)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id
		`, blockHash, o.OutputType, o.Commitment, o.Spent, o.Proof, o.ProofHash, o.MerkleProof, o.MMRIndex).Scan(&id)
		if err != nil {
			return nil, err
		}
		created[o.Commitment] = id
	}
	return created, nil
}

func linkWaitingInputs(ctx context.Context, tx pgx.Tx, waiting []waitingInput, createdOutputIDs map[string]int64) error {
	for _, w := range waiting {
		outputID, ok := createdOutputIDs[w.Commitment]
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE inputs SET output_id = $1 WHERE id = $2`, outputID, w.ID); err != nil {
			return err
		}
	}
	return nil
}
