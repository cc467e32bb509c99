package pipeline

import (
	"context"
	"time"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
)

// RetrySweeper periodically resets Failed and Cancelled download records back
// to Waiting. There is no exponential backoff; the fixed poll interval bounds
// the retry frequency.
type RetrySweeper struct {
	stages   *stagequeue.Stages
	interval time.Duration
}

// NewRetrySweeper returns a sweeper scanning every interval.
func NewRetrySweeper(stages *stagequeue.Stages, interval time.Duration) *RetrySweeper {
	return &RetrySweeper{stages: stages, interval: interval}
}

// Run scans until ctx is cancelled.
func (s *RetrySweeper) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(logctx.WithWorker(ctx, "retry-sweeper", 0))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retry sweeper shutting down")
			return
		case <-ticker.C:
			if reset := s.stages.Download.ResetRetryable(); reset > 0 {
				logger.Info("reset failed downloads for retry", "count", reset)
			}
		}
	}
}
