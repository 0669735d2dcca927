package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	sweepConcurrency = 10
	sweepBatchSize   = 200
)

// Sweep drains every due unclaimed debounce timer. It backstops the
// in-process timers: rows left behind by a crashed or restarted instance
// get picked up on the next pass. The per-row claim makes concurrent
// sweepers and live timers safe against each other.
func (e *Engine) Sweep(ctx context.Context) (processed int, errored int, err error) {
	due, err := e.store.ListDuePending(ctx, e.now(), sweepBatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(due) == 0 {
		return 0, 0, nil
	}

	var okCount, errCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, row := range due {
		conversationID := row.ConversationID
		g.Go(func() error {
			if err := e.ProcessDue(gctx, conversationID); err != nil {
				e.logger.Error("sweeper failed processing conversation", "conversation_id", conversationID, "error", err)
				errCount.Add(1)
				if e.metrics != nil {
					e.metrics.SweeperItems.WithLabelValues("error").Inc()
				}
				return nil
			}
			okCount.Add(1)
			if e.metrics != nil {
				e.metrics.SweeperItems.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(okCount.Load()), int(errCount.Load()), err
	}
	return int(okCount.Load()), int(errCount.Load()), nil
}

// RunSweeper loops Sweep on the given interval until the context ends.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if processed, errored, err := e.Sweep(ctx); err != nil {
				e.logger.Error("sweep pass failed", "error", err)
			} else if processed > 0 || errored > 0 {
				e.logger.Info("sweep pass complete", "processed", processed, "errored", errored)
			}
		}
	}
}
