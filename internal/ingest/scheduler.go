package ingest

import (
	"context"
	"time"

	"github.com/mwexplorer/chainstate/internal/store"
	"github.com/mwexplorer/chainstate/internal/util"
)

// Scheduler runs the single-threaded periodic loop (5.3): a fixed 1-minute
// tick enqueues a progress-update pass over every configured blockchain.
// Price and graph updates are out-of-core collaborators and are not
// implemented here.
type Scheduler struct {
	store    *store.Store
	engine   *Engine
	interval time.Duration
}

func NewScheduler(st *store.Store, engine *Engine) *Scheduler {
	return &Scheduler{store: st, engine: engine, interval: time.Minute}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	util.Info("periodic scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			util.Info("periodic scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	blockchains, err := s.store.ListBlockchains(ctx)
	if err != nil {
		util.Warn("periodic scheduler: failed to list blockchains", "error", err.Error())
		return
	}
	for i := range blockchains {
		bc := &blockchains[i]
		if err := s.engine.opportunisticProgressUpdate(ctx, bc); err != nil {
			util.Warn("periodic scheduler: progress update failed", "blockchain", bc.Slug, "error", err.Error())
		}
		s.engine.sink.Publish(Event{Kind: EventBlockchainProgress, BlockchainSlug: bc.Slug, Payload: BootstrapProgress{BlockchainSlug: bc.Slug, Percent: bc.LoadProgress}})
	}
}
