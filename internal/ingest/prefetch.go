package ingest

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/rpc"
	"github.com/mwexplorer/chainstate/internal/util"
)

// defaultPrefetchConcurrency is the bootstrap prefetch worker pool's default
// size (4.8: "concurrency configurable, default small — e.g. 4").
const defaultPrefetchConcurrency = 4

// prefetchWindowSize matches GetBlocks' own 1..1000 limit, so one prefetch
// call covers exactly one of the cache's own window sizes.
const prefetchWindowSize = 1000

// prefetchBuffer holds block payloads the worker pool fetched ahead of the
// strictly sequential bootstrap write/detect loop. It only ever receives
// reads from the node; the write+detect loop stays single-threaded per
// blockchain so reorg detection and progress accounting are unaffected.
type prefetchBuffer struct {
	mu       sync.Mutex
	payloads map[uint64]rpc.BlockPayload
}

func newPrefetchBuffer() *prefetchBuffer {
	return &prefetchBuffer{payloads: make(map[uint64]rpc.BlockPayload)}
}

// take returns and removes a buffered payload for height, if the prefetch
// pool already fetched it.
func (b *prefetchBuffer) take(height uint64) (rpc.BlockPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payloads[height]
	if ok {
		delete(b.payloads, height)
	}
	return p, ok
}

func (b *prefetchBuffer) store(blocks []rpc.BlockPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range blocks {
		b.payloads[p.Header.Height] = p
	}
}

type prefetchWindow struct {
	start, end uint64
}

// prefetchWindows buckets a possibly sparse set of missing heights into the
// distinct prefetchWindowSize-wide windows that cover them, deduplicated so
// two missing heights in the same window are only ever fetched once.
func prefetchWindows(missing []int64) []prefetchWindow {
	seen := make(map[int64]bool)
	var buckets []int64
	for _, h := range missing {
		if h < 0 {
			continue
		}
		bucket := h / prefetchWindowSize
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] > buckets[j] })

	windows := make([]prefetchWindow, 0, len(buckets))
	for _, bucket := range buckets {
		start := bucket * prefetchWindowSize
		windows = append(windows, prefetchWindow{start: uint64(start), end: uint64(start + prefetchWindowSize - 1)})
	}
	return windows
}

// prefetchMissing implements 4.8's optional prefetch worker pool: it fans
// out, bounded by concurrency, fetching every window touched by missing
// heights ahead of the sequential loop reaching them. A fetch failure for
// one window is logged and otherwise ignored — the sequential loop always
// falls back to its own single-block/cache path, so a failed prefetch only
// costs the speedup it would have provided, never correctness.
func (e *Engine) prefetchMissing(ctx context.Context, bc *chain.Blockchain, missing []int64, concurrency int) *prefetchBuffer {
	buf := newPrefetchBuffer()
	if len(missing) == 0 {
		return buf
	}
	if concurrency <= 0 {
		concurrency = defaultPrefetchConcurrency
	}

	node, _, err := e.collaborators(bc)
	if err != nil {
		return buf
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, w := range prefetchWindows(missing) {
		w := w
		g.Go(func() error {
			blocks, err := node.GetBlocks(gctx, w.start, w.end, prefetchWindowSize, bc.Archive)
			if err != nil {
				util.Warn("bootstrap prefetch window failed", "blockchain", bc.Slug, "start", w.start, "end", w.end, "error", err.Error())
				return nil
			}
			buf.store(blocks)
			return nil
		})
	}
	_ = g.Wait()
	return buf
}
