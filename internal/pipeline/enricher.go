package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/telemetry"
)

// EnrichPool drains the pending stage, fetches rich metadata and hands
// download-ready records to the download stage. Enrichment is the idempotent
// path: a failed fetch requeues the original record unchanged, so repeating
// it must be safe.
type EnrichPool struct {
	stages      *stagequeue.Stages
	meta        MetadataSource
	maxAttempts int
	tel         *telemetry.Telemetry

	// Attempt counts live here, not in the record, so a requeued record is
	// byte-identical to the one that failed.
	mu       sync.Mutex
	attempts map[string]int
}

// NewEnrichPool returns an enricher pool over the given stages.
func NewEnrichPool(stages *stagequeue.Stages, meta MetadataSource, maxAttempts int, tel *telemetry.Telemetry) *EnrichPool {
	return &EnrichPool{
		stages:      stages,
		meta:        meta,
		maxAttempts: maxAttempts,
		tel:         tel,
		attempts:    make(map[string]int),
	}
}

// Run is one pool member's loop; it exits when the pending stage closes.
func (p *EnrichPool) Run(ctx context.Context, index int) {
	logger := logctx.LoggerFromContext(logctx.WithWorker(ctx, "enricher", index))

	for {
		key, item := p.stages.Pending.Pop(true, 0)
		if item == nil {
			logger.Info("enricher shutting down")
			return
		}
		p.enrichOne(ctx, logger, key, item)
	}
}

// EnrichOnce processes at most one pending item without blocking. It exists
// for operational single-stepping and returns whether an item was consumed.
func (p *EnrichPool) EnrichOnce(ctx context.Context) bool {
	key, item := p.stages.Pending.Pop(false, 0)
	if item == nil {
		return false
	}
	p.enrichOne(ctx, logctx.LoggerFromContext(ctx), key, item)
	return true
}

func (p *EnrichPool) enrichOne(ctx context.Context, logger *slog.Logger, key string, item *media.Item) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("enricher panic, requeueing item",
				"key", key, "panic", rec, "stack", string(debug.Stack()))
			p.stages.Pending.Requeue(key, item)
		}
	}()

	meta, err := p.meta.FetchMetadata(ctx, item.Service, item.ID)
	if err != nil {
		attempts := p.bump(key)
		if attempts >= p.maxAttempts {
			// Permanently broken item: surface it in the download stage as
			// Unavailable instead of looping on it forever.
			logger.Error("giving up on item after repeated metadata failures",
				"key", key, "service", item.Service, "item_id", item.ID,
				"attempts", attempts, "err", err)
			p.forget(key)

			record := media.NewDownload(item, media.Metadata{Title: item.URL})
			record.Status = media.StatusUnavailable
			p.stages.Download.Push(key, record)
			p.tel.RecordEnrichment("unavailable")
			return
		}

		logger.Warn("metadata fetch failed, requeueing",
			"key", key, "service", item.Service, "item_id", item.ID,
			"attempt", attempts, "err", &MetadataError{Service: item.Service, ItemID: item.ID, Err: err})
		p.stages.Pending.Requeue(key, item)
		p.tel.RecordEnrichment("requeued")
		return
	}

	p.forget(key)
	p.stages.Download.Push(key, media.NewDownload(item, meta))
	p.tel.RecordEnrichment("enriched")
	logger.Info("item enriched", "key", key, "name", meta.Title, "by", meta.Artists)
}

func (p *EnrichPool) bump(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[key]++
	return p.attempts[key]
}

func (p *EnrichPool) forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, key)
}

// resetAttempts drops all per-key retry bookkeeping. Called by the bulk
// cancel after the pending stage is drained.
func (p *EnrichPool) resetAttempts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = make(map[string]int)
}
