package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mwexplorer/chainstate/internal/chain"
)

func TestReverseBlocks(t *testing.T) {
	a := &chain.Block{Height: 1}
	b := &chain.Block{Height: 2}
	c := &chain.Block{Height: 3}

	reversed := reverseBlocks([]*chain.Block{a, b, c})
	assert.Equal(t, []*chain.Block{c, b, a}, reversed)
}

func TestReverseBlocks_Empty(t *testing.T) {
	assert.Empty(t, reverseBlocks(nil))
}
