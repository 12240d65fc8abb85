// Package chain holds the relational data model of the chain-state ingestion
// engine: blockchains, headers, blocks, kernels, outputs, inputs and reorgs.
package chain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutputType distinguishes a coinbase reward output from a regular transaction output.
type OutputType string

const (
	OutputTransaction OutputType = "Transaction"
	OutputCoinbase    OutputType = "Coinbase"
)

// Blockchain is a named chain bound to exactly one upstream node.
type Blockchain struct {
	ID                        int64
	Slug                      string
	Archive                   bool
	LoadProgress              decimal.Decimal
	NodeURL                   string
	NodeUser                  string
	NodePassword              string
	SignificantReorgThreshold int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// ProgressScale returns how many decimal places load progress is quantized to:
// archive nodes (full history, slower, worth finer-grained feedback) get 2,
// everything else gets 0.
func (b *Blockchain) ProgressScale() int32 {
	if b.Archive {
		return 2
	}
	return 0
}

// BlockHeader is deduplicated within a blockchain by (KernelRoot, CuckooSolution).
type BlockHeader struct {
	ID               int64
	BlockchainID     int64
	Version          int32
	OutputRoot       string
	RangeProofRoot   string
	KernelRoot       string
	KernelMMRSize    uint64
	OutputMMRSize    uint64
	Nonce            uint64
	EdgeBits         int32
	CuckooSolution   string // comma-joined textual form of the 42 proof-of-work integers
	SecondaryScaling uint32
	TotalDifficulty  uint64
	TotalKernelOffset string
}

// NaturalKey is the composite identity BlockHeader rows are deduplicated on.
type HeaderNaturalKey struct {
	BlockchainID   int64
	KernelRoot     string
	CuckooSolution string
}

func (h *BlockHeader) NaturalKey() HeaderNaturalKey {
	return HeaderNaturalKey{
		BlockchainID:   h.BlockchainID,
		KernelRoot:     h.KernelRoot,
		CuckooSolution: h.CuckooSolution,
	}
}

// Block is globally identified by its hash. ReorgID is nil when the block sits
// on the main chain; non-nil marks it as belonging to a demoted branch.
type Block struct {
	Hash         string // 64 hex chars
	BlockchainID int64
	HeaderID     int64
	Height       int64
	Timestamp    time.Time
	PreviousHash *string
	InputCount   int
	OutputCount  int
	KernelCount  int
	ReorgID      *int64
	CreatedAt    time.Time
}

// OnMainChain reports whether this block currently sits on the canonical chain.
func (b *Block) OnMainChain() bool {
	return b.ReorgID == nil
}

// Kernel is a transaction-level artifact aggregated at the block level.
type Kernel struct {
	ID         int64
	BlockHash  string
	Features   string
	Fee        uint64
	FeeShift   uint8
	LockHeight uint64
	Excess     string // 66 hex chars
	ExcessSig  string
}

// Output is the creation half of a value commitment.
type Output struct {
	ID          int64
	BlockHash   string
	OutputType  OutputType
	Commitment  string // 66 hex chars, not globally unique
	Spent       bool
	Proof       string
	ProofHash   string
	MerkleProof *string // null for coinbase outputs
	MMRIndex    uint64
}

// Input is the consuming half of a value commitment; Output is resolved lazily
// and may remain nil when no matching unspent output has been seen yet.
type Input struct {
	ID         int64
	BlockHash  string
	Commitment string
	OutputID   *int64
}

// Reorg records a branch-rewrite: the demoted range [StartReorgBlockHash,
// EndReorgBlockHash] (inclusive, ordered by height) and the block that replaced
// its first element on the new main chain.
type Reorg struct {
	ID                  int64
	BlockchainID        int64
	StartReorgBlockHash string
	EndReorgBlockHash   string
	StartMainBlockHash  string
	StartHeight         int64
	EndHeight           int64
	CreatedAt           time.Time
}

// Significant reports whether this reorg's span meets or exceeds threshold.
func (r *Reorg) Significant(threshold int) bool {
	return r.EndHeight-r.StartHeight+1 >= int64(threshold)
}
