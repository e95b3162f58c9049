package purchase

import (
	"context"
	"time"

	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Sweeper fails purchases left pending longer than the TTL.
type Sweeper struct {
	machine     *Machine
	store       Store
	ttl         time.Duration
	batchSize   int
	concurrency int
	logger      observability.Logger
}

func NewSweeper(machine *Machine, ttl time.Duration, logger observability.Logger) *Sweeper {
	return &Sweeper{
		machine:     machine,
		store:       machine.store,
		ttl:         ttl,
		batchSize:   100,
		concurrency: 4,
		logger:      logger,
	}
}

// Sweep fails one batch of stale purchases and returns how many it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.machine.now().Add(-s.ttl)
	stale, err := s.store.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	failed := make([]bool, len(stale))
	for i, p := range stale {
		g.Go(func() error {
			if _, err := s.machine.Fail(gctx, p.ID, "expired"); err != nil {
				s.logger.WithError(err).WithField("purchase_id", p.ID).Warn("sweep fail")
				return nil
			}
			failed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range failed {
		if ok {
			n++
		}
	}
	if n > 0 {
		observability.SweptPurchases.Add(float64(n))
		s.logger.WithField("count", n).Info("expired purchases failed")
	}
	return n, nil
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}
