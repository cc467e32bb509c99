// Package pipeline runs the worker pools that move a media item from raw
// intake through metadata enrichment to final download.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/telemetry"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/throttle"
)

// Source resolves a raw URL or search input into canonical item descriptors.
// A playlist-style input resolves to one descriptor per contained item.
type Source interface {
	Resolve(ctx context.Context, input string) ([]media.Descriptor, error)
}

// MetadataSource fetches the rich metadata for a resolved item. It must be
// safe to call repeatedly for the same id.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, service, itemID string) (media.Metadata, error)
}

// Transferer performs the actual download. It reports incremental progress
// through onProgress and aborts when the callback returns an error; on failure
// no partial output may remain visible under the final path.
type Transferer interface {
	Transfer(ctx context.Context, item *media.Item, onProgress func(written, total int64) error) (string, error)
}

// HistoryRecorder persists a record of a completed download.
type HistoryRecorder interface {
	RecordDownload(ctx context.Context, item *media.Item) error
}

// Options tunes the worker pools.
type Options struct {
	EnricherWorkers   int
	DownloadWorkers   int
	MaxEnrichAttempts int
	// ClaimPoll bounds how long a download worker blocks on an empty stage
	// and how long it backs off when every record is claimed or terminal.
	ClaimPoll time.Duration
	// RetryInterval is the sweeper's scan period; zero disables the sweeper.
	RetryInterval time.Duration
	// ThrottledService reports whether a service tag requires pacing.
	ThrottledService func(service string) bool
}

func (o Options) withDefaults() Options {
	if o.EnricherWorkers <= 0 {
		o.EnricherWorkers = 1
	}
	if o.DownloadWorkers <= 0 {
		o.DownloadWorkers = 1
	}
	if o.MaxEnrichAttempts <= 0 {
		o.MaxEnrichAttempts = 5
	}
	if o.ClaimPoll <= 0 {
		o.ClaimPoll = 2 * time.Second
	}
	if o.ThrottledService == nil {
		o.ThrottledService = func(string) bool { return false }
	}
	return o
}

// Pipeline owns the three stage queues and the workers that drain them.
type Pipeline struct {
	stages   *stagequeue.Stages
	resolver *Resolver
	enricher *EnrichPool
	pool     *DownloadPool
	sweeper  *RetrySweeper
	opts     Options

	group errgroup.Group
}

// New assembles a pipeline over the given stages and collaborators. throttle
// is required; history and tel may be nil.
func New(
	stages *stagequeue.Stages,
	source Source,
	meta MetadataSource,
	transferer Transferer,
	thr *throttle.Throttle,
	history HistoryRecorder,
	tel *telemetry.Telemetry,
	opts Options,
) *Pipeline {
	opts = opts.withDefaults()

	p := &Pipeline{
		stages: stages,
		opts:   opts,
	}
	p.resolver = NewResolver(stages, source, tel)
	p.enricher = NewEnrichPool(stages, meta, opts.MaxEnrichAttempts, tel)
	p.pool = NewDownloadPool(stages, transferer, thr, history, tel, opts)
	if opts.RetryInterval > 0 {
		p.sweeper = NewRetrySweeper(stages, opts.RetryInterval)
	}
	return p
}

// Stages exposes the queues for operational callers.
func (p *Pipeline) Stages() *stagequeue.Stages { return p.stages }

// Downloads exposes the download pool's event channels.
func (p *Pipeline) Downloads() *DownloadPool { return p.pool }

// EnqueueIntake assigns a fresh key to the raw input and pushes it into the
// intake stage, returning the key.
func (p *Pipeline) EnqueueIntake(input string) string {
	item := media.NewIntake(input)
	p.stages.Intake.Push(item.Key, item)
	return item.Key
}

// CancelAll aborts everything in flight: it empties the intake and pending
// stages so nothing new reaches the download stage, clears the enricher's
// retry bookkeeping and cancels every Waiting download record. Returns the
// number of records affected.
func (p *Pipeline) CancelAll() int {
	affected := p.stages.Intake.Drain()
	affected += p.stages.Pending.Drain()
	p.enricher.resetAttempts()
	affected += p.stages.Download.CancelWaiting()
	return affected
}

// Start launches the resolver, the enricher and download pools and the retry
// sweeper. Workers run until ctx is cancelled; cancellation closes the stage
// queues so blocked pops return.
func (p *Pipeline) Start(ctx context.Context) {
	p.group.Go(func() error {
		<-ctx.Done()
		p.stages.Close()
		return nil
	})

	p.group.Go(func() error {
		p.resolver.Run(ctx)
		return nil
	})

	for i := 0; i < p.opts.EnricherWorkers; i++ {
		index := i
		p.group.Go(func() error {
			p.enricher.Run(ctx, index)
			return nil
		})
	}

	for i := 0; i < p.opts.DownloadWorkers; i++ {
		index := i
		p.group.Go(func() error {
			p.pool.Run(ctx, index)
			return nil
		})
	}

	if p.sweeper != nil {
		p.group.Go(func() error {
			p.sweeper.Run(ctx)
			return nil
		})
	}
}

// Wait blocks until every worker has exited.
func (p *Pipeline) Wait() {
	_ = p.group.Wait()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
