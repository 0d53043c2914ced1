package reconciliation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Summary counts the reservations a sweep touched.
type Summary struct {
	Processed int64         `json:"processed"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Sweeper re-derives every reservation in batches with bounded concurrency.
// It repairs balances left stale by reconciliations that failed after a payment write.
type Sweeper struct {
	engine      *Engine
	concurrency int
	batchSize   int
	logger      *slog.Logger
}

// NewSweeper creates a sweeper reconciling batchSize reservations at a time with up to concurrency workers
func NewSweeper(engine *Engine, concurrency, batchSize int, logger *slog.Logger) *Sweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		engine:      engine,
		concurrency: concurrency,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run sweeps all reservations once. A failing reservation is counted and skipped;
// only listing failures and cancellation stop the sweep.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var processed, failed atomic.Int64

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return s.summary(&processed, &failed, start), err
		}

		ids, err := s.engine.repo.ReservationIDs(ctx, after, s.batchSize)
		if err != nil {
			s.logger.Error("sweep: failed to list reservations", "after", after, "error", err)
			return s.summary(&processed, &failed, start), err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := s.engine.Reconcile(gctx, id); err != nil {
					failed.Add(1)
					s.logger.Warn("sweep: reconcile failed", "reservation_id", id, "error", err)
					return nil
				}
				processed.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		after = ids[len(ids)-1]
		if len(ids) < s.batchSize {
			break
		}
	}

	summary := s.summary(&processed, &failed, start)
	s.logger.Info("sweep finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"duration", summary.Duration.String())
	return summary, nil
}

// RunEvery sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) summary(processed, failed *atomic.Int64, start time.Time) Summary {
	return Summary{
		Processed: processed.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(start),
	}
}
