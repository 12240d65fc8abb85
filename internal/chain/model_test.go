package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockchainProgressScale(t *testing.T) {
	archive := &Blockchain{Archive: true}
	assert.Equal(t, int32(2), archive.ProgressScale())

	pruned := &Blockchain{Archive: false}
	assert.Equal(t, int32(0), pruned.ProgressScale())
}

func TestHeaderNaturalKey(t *testing.T) {
	h := &BlockHeader{BlockchainID: 7, KernelRoot: "aa", CuckooSolution: "1,2,3"}
	key := h.NaturalKey()
	assert.Equal(t, HeaderNaturalKey{BlockchainID: 7, KernelRoot: "aa", CuckooSolution: "1,2,3"}, key)
}

func TestBlockOnMainChain(t *testing.T) {
	main := &Block{ReorgID: nil}
	assert.True(t, main.OnMainChain())

	var reorgID int64 = 3
	demoted := &Block{ReorgID: &reorgID}
	assert.False(t, demoted.OnMainChain())
}

func TestReorgSignificant(t *testing.T) {
	tests := []struct {
		name      string
		start     int64
		end       int64
		threshold int
		want      bool
	}{
		{"single block below threshold", 100, 100, 2, false},
		{"span equal to threshold", 100, 101, 2, true},
		{"span above threshold", 100, 110, 2, true},
		{"threshold of one always significant", 50, 50, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reorg{StartHeight: tt.start, EndHeight: tt.end}
			assert.Equal(t, tt.want, r.Significant(tt.threshold))
		})
	}
}
