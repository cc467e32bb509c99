package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/telemetry"
)

// Resolver drains the intake stage, turning raw URLs and search inputs into
// canonical pending records. A single worker suffices, but extra copies are
// safe because pop is an atomic test-and-remove.
type Resolver struct {
	stages *stagequeue.Stages
	source Source
	tel    *telemetry.Telemetry
}

// NewResolver returns a resolver over the given stages.
func NewResolver(stages *stagequeue.Stages, source Source, tel *telemetry.Telemetry) *Resolver {
	return &Resolver{stages: stages, source: source, tel: tel}
}

// Run consumes intake items until the stage closes. Resolution failures are
// assumed non-transient (malformed URL, unknown service): the item is logged
// and dropped, never retried.
func (r *Resolver) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(logctx.WithWorker(ctx, "resolver", 0))

	for {
		key, item := r.stages.Intake.Pop(true, 0)
		if item == nil {
			logger.Info("resolver shutting down")
			return
		}
		r.resolveOne(ctx, logger, key, item)
	}
}

func (r *Resolver) resolveOne(ctx context.Context, logger *slog.Logger, key string, item *media.Item) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("resolver panic, dropping item",
				"key", key, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	descriptors, err := r.source.Resolve(ctx, item.Query)
	if err != nil {
		logger.Warn("dropping unresolvable item", "key", key, "input", item.Query, "err", err)
		r.tel.RecordResolution("dropped")
		return
	}

	if len(descriptors) == 1 {
		// The key assigned at intake stays stable across all stages.
		r.stages.Pending.Push(key, media.NewPending(key, descriptors[0]))
		r.tel.RecordResolution("resolved")
		logger.Info("item resolved", "key", key, "service", descriptors[0].Service)
		return
	}

	// The input expanded to multiple sub-items (playlist, album, multi-URL
	// paste). Each sub-item enters pending under its own key; the parent is
	// not tracked further.
	for _, d := range descriptors {
		subKey := media.NewKey()
		r.stages.Pending.Push(subKey, media.NewPending(subKey, d))
		r.tel.RecordResolution("resolved")
	}
	logger.Info("input expanded into sub-items", "key", key, "count", len(descriptors))
}
