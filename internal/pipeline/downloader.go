package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/telemetry"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/throttle"
)

// DownloadPool claims records from the download stage and runs the transfer.
// The claim protocol marks a record unavailable under the stage mutex; the
// claimant must restore availability on every exit path, which Run guarantees
// with a deferred release.
type DownloadPool struct {
	stages     *stagequeue.Stages
	transferer Transferer
	throttle   *throttle.Throttle
	history    HistoryRecorder
	tel        *telemetry.Telemetry
	opts       Options

	// OnItemDownloaded and OnItemFailed receive record snapshots for
	// notification fan-out. Sends never block; events are dropped when no
	// consumer keeps up.
	OnItemDownloaded chan *media.Item
	OnItemFailed     chan *media.Item
}

// NewDownloadPool returns a download pool over the given stages. history and
// tel may be nil.
func NewDownloadPool(
	stages *stagequeue.Stages,
	transferer Transferer,
	thr *throttle.Throttle,
	history HistoryRecorder,
	tel *telemetry.Telemetry,
	opts Options,
) *DownloadPool {
	return &DownloadPool{
		stages:           stages,
		transferer:       transferer,
		throttle:         thr,
		history:          history,
		tel:              tel,
		opts:             opts.withDefaults(),
		OnItemDownloaded: make(chan *media.Item, 16),
		OnItemFailed:     make(chan *media.Item, 16),
	}
}

// Run is one pool member's loop; it exits when ctx is cancelled and the
// download stage closes.
func (p *DownloadPool) Run(ctx context.Context, index int) {
	logger := logctx.LoggerFromContext(logctx.WithWorker(ctx, "downloader", index))

	for {
		if ctx.Err() != nil {
			logger.Info("download worker shutting down")
			return
		}

		key, item := p.stages.Download.Claim(true, p.opts.ClaimPoll)
		if item == nil {
			// Empty stage timed out, or no record is runnable right now.
			// Back off and poll again.
			sleep(ctx, p.opts.ClaimPoll)
			continue
		}

		if p.ProcessClaimed(ctx, logger, key, item) {
			p.pause(ctx, logger, item)
		} else {
			// The claimed record stopped being runnable (cancelled between
			// claim and transfer, throttle gate). Idle before the next scan.
			sleep(ctx, p.opts.ClaimPoll)
		}
	}
}

// ProcessClaimed runs the transfer for a record this worker has already
// claimed and reports whether a transfer was actually attempted. Availability
// is restored on every exit path, panics included.
func (p *DownloadPool) ProcessClaimed(ctx context.Context, logger *slog.Logger, key string, item *media.Item) bool {
	defer p.stages.Download.Release(key)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("download worker panic",
				"key", key, "panic", rec, "stack", string(debug.Stack()))
			p.stages.Download.SetStatus(key, media.StatusFailed)
		}
	}()

	// The claim scan only hands out Waiting records, but a cancel can land
	// after the claim; re-check the live status before transferring.
	if status, ok := p.stages.Download.Status(key); !ok || status != media.StatusWaiting {
		return false
	}

	if !p.throttle.CanProceed() {
		logger.Info("throttle cap reached, deferring download", "key", key)
		return false
	}

	p.stages.Download.SetStatus(key, media.StatusDownloading)
	p.tel.IncrementActiveDownloads()
	defer p.tel.DecrementActiveDownloads()

	start := time.Now()
	path, err := p.transferer.Transfer(ctx, item, func(written, total int64) error {
		if total > 0 {
			p.stages.Download.SetProgress(key, float64(written)*100/float64(total))
		}
		// Cooperative cancellation at chunk-boundary granularity.
		if status, ok := p.stages.Download.Status(key); ok && status == media.StatusCancelled {
			return ErrCancelled
		}
		return ctx.Err()
	})
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			logger.Info("download cancelled", "key", key, "name", item.Name)
			p.stages.Download.SetStatus(key, media.StatusCancelled)
			p.tel.RecordDownload("cancelled", time.Since(start))
			return true
		}

		logger.Error("download failed", "key", key, "name", item.Name,
			"err", &TransferError{Key: key, Err: err})
		p.stages.Download.SetStatus(key, media.StatusFailed)
		p.tel.RecordDownload("failed", time.Since(start))
		p.emit(p.OnItemFailed, key)
		return true
	}

	p.stages.Download.SetFilePath(key, path)
	p.stages.Download.SetProgress(key, 100)
	p.stages.Download.SetStatus(key, media.StatusDownloaded)
	p.tel.RecordDownload("downloaded", time.Since(start))

	p.throttle.RecordSuccess()
	if p.history != nil {
		if rec, ok := p.stages.Download.Get(key); ok {
			if histErr := p.history.RecordDownload(ctx, rec); histErr != nil {
				logger.Warn("failed to record download history", "key", key, "err", histErr)
			}
		}
	}

	logger.Info("download finished", "key", key, "name", item.Name, "path", path,
		"duration", time.Since(start).String())
	p.emit(p.OnItemDownloaded, key)
	return true
}

// pause applies the inter-item delay and, when due, the session break before
// the worker starts its next claim cycle.
func (p *DownloadPool) pause(ctx context.Context, logger *slog.Logger, item *media.Item) {
	delay := p.throttle.Delay(item.Service, p.opts.ThrottledService(item.Service))
	sleep(ctx, delay)

	if needsBreak, duration := p.throttle.CheckSessionBreak(); needsBreak {
		logger.Info("taking a session break", "duration", duration.String())
		sleep(ctx, duration)
	}
}

func (p *DownloadPool) emit(ch chan *media.Item, key string) {
	snapshot, ok := p.stages.Download.Get(key)
	if !ok {
		return
	}
	select {
	case ch <- snapshot:
	default:
	}
}
