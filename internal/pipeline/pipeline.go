package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
	"github.com/couchcryptid/location-geocoder/internal/resolver"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// BatchExtractor reads up to batchSize raw location messages from the source.
// It may return messages together with an error; those messages were
// fetched and must still be handled.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// EventResolver resolves a record and notifies sink when the address is known.
type EventResolver interface {
	ResolveForEvent(rec *domain.LocationRecord, sink resolver.Sink)
}

// BatchLoader writes multiple records to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []domain.LocationSnapshot) error
}

// Options tunes batching and how long a record may wait for its address.
type Options struct {
	BatchSize      int
	FlushInterval  time.Duration
	ResolveTimeout time.Duration
	Clock          clockwork.Clock
}

type pendingRecord struct {
	offset *trackedOffset
	since  time.Time
}

// Pipeline streams location messages through the resolver and publishes the
// annotated records. It is the resolver's event sink: records stay referenced
// here until they are published, resolved or not.
type Pipeline struct {
	extractor BatchExtractor
	resolver  EventResolver
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	opts      Options
	ready     atomic.Bool

	mu      sync.Mutex
	pending map[*domain.LocationRecord]pendingRecord

	// Results handed over by the resolver, drained by the publisher.
	resultsMu sync.Mutex
	results   []*domain.LocationRecord
	notify    chan struct{}

	offsets   *offsetTracker
	commitMu  sync.Mutex
	committed map[partitionKey]int64

	stopped chan struct{}
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, r EventResolver, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		extractor: e,
		resolver:  r,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		clock:     opts.Clock,
		opts:      opts,
		pending:   make(map[*domain.LocationRecord]pendingRecord),
		notify:    make(chan struct{}, 1),
		offsets:   newOffsetTracker(),
		committed: make(map[partitionKey]int64),
		stopped:   make(chan struct{}),
	}
}

// CheckReadiness returns nil once the pipeline has published at least one
// record, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any records yet")
	}
	return nil
}

// OnGeocodingResult hands a resolved record to the publisher. It runs on the
// resolver's owner loop and never blocks, however slow publishing is.
func (p *Pipeline) OnGeocodingResult(rec *domain.LocationRecord) {
	p.resultsMu.Lock()
	p.results = append(p.results, rec)
	p.resultsMu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Detached reports true once the publisher has stopped, so late results are
// dropped by the resolver instead of queued.
func (p *Pipeline) Detached() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// Run executes the consume loop and the publisher until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"batch_size", p.opts.BatchSize,
		"flush_interval", p.opts.FlushInterval,
		"resolve_timeout", p.opts.ResolveTimeout,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		p.publish(ctx)
	}()

	sink := resolver.WeakSink(p)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for ctx.Err() == nil {
		if !p.consumeBatch(ctx, sink, &backoff, maxBackoff) {
			break
		}
	}

	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	<-publisherDone
	return nil
}

// consumeBatch extracts one batch and hands every parsed record to the
// resolver. Returns false if the pipeline should stop.
func (p *Pipeline) consumeBatch(ctx context.Context, sink resolver.Sink, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.opts.BatchSize)
	if ctx.Err() != nil {
		return false
	}

	// Messages fetched before a failure are already past the reader's
	// position and would otherwise never be seen again.
	for _, raw := range rawBatch {
		p.consume(ctx, raw, sink)
	}

	if err != nil {
		p.logger.Error("extract batch failed", "error", err, "fetched", len(rawBatch))
		if !retry.SleepWithContext(ctx, *backoff) {
			return false
		}
		*backoff = retry.NextBackoff(*backoff, maxBackoff)
		return true
	}
	*backoff = 200 * time.Millisecond
	return true
}

func (p *Pipeline) consume(ctx context.Context, raw domain.RawEvent, sink resolver.Sink) {
	offset := p.offsets.track(raw)

	rec, err := domain.ParseLocationMessage(raw)
	if err != nil {
		p.logger.Warn("parse failed, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.ParseErrors.Inc()
		p.commit(ctx, p.offsets.finish(offset))
		return
	}

	p.mu.Lock()
	p.pending[rec] = pendingRecord{offset: offset, since: p.clock.Now()}
	p.mu.Unlock()

	p.resolver.ResolveForEvent(rec, sink)
	p.metrics.MessagesConsumed.Inc()
}

// publish collects resolved and abandoned records and writes them in batches.
func (p *Pipeline) publish(ctx context.Context) {
	defer close(p.stopped)

	interval := p.opts.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	var queue []*domain.LocationRecord
	queued := make(map[*domain.LocationRecord]bool)

	enqueue := func(rec *domain.LocationRecord) {
		if queued[rec] || !p.isPending(rec) {
			return
		}
		queued[rec] = true
		queue = append(queue, rec)
	}

	flush := func(ctx context.Context) {
		if len(queue) == 0 {
			return
		}
		if p.flush(ctx, queue) {
			for _, rec := range queue {
				delete(queued, rec)
			}
			queue = queue[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			for _, rec := range p.takeResults() {
				enqueue(rec)
			}
			// Best-effort final flush of what is already resolved.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(flushCtx)
			cancel()
			return
		case <-p.notify:
			for _, rec := range p.takeResults() {
				enqueue(rec)
			}
			if len(queue) >= p.opts.BatchSize {
				flush(ctx)
			}
		case <-ticker.Chan():
			for _, rec := range p.takeResults() {
				enqueue(rec)
			}
			for _, rec := range p.expired() {
				enqueue(rec)
			}
			flush(ctx)
		}
	}
}

func (p *Pipeline) takeResults() []*domain.LocationRecord {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	out := p.results
	p.results = nil
	return out
}

// flush publishes records and commits their source offsets. It returns false
// if the batch must be retried.
func (p *Pipeline) flush(ctx context.Context, records []*domain.LocationRecord) bool {
	snapshots := make([]domain.LocationSnapshot, len(records))
	for i, rec := range records {
		snapshots[i] = rec.Snapshot()
	}

	if err := p.loader.LoadBatch(ctx, snapshots); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(snapshots))
		return false
	}

	p.metrics.MessagesProduced.Add(float64(len(snapshots)))
	p.metrics.BatchSize.Observe(float64(len(snapshots)))
	p.ready.Store(true)

	done := make([]*trackedOffset, 0, len(records))
	p.mu.Lock()
	for _, rec := range records {
		if entry, ok := p.pending[rec]; ok {
			done = append(done, entry.offset)
			delete(p.pending, rec)
		}
	}
	p.mu.Unlock()

	p.commit(ctx, p.offsets.finish(done...))
	return true
}

// expired returns pending records that have waited longer than the resolve timeout.
func (p *Pipeline) expired() []*domain.LocationRecord {
	if p.opts.ResolveTimeout <= 0 {
		return nil
	}
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*domain.LocationRecord
	for rec, entry := range p.pending {
		if rec.HasResolvedAddress() || now.Sub(entry.since) < p.opts.ResolveTimeout {
			continue
		}
		p.logger.Warn("geocoding not finished in time, publishing unresolved",
			"record_id", rec.ID,
			"waited", now.Sub(entry.since),
		)
		p.metrics.RecordsAbandoned.Inc()
		out = append(out, rec)
	}
	return out
}

func (p *Pipeline) isPending(rec *domain.LocationRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[rec]
	return ok
}

// commit commits the released offsets. Commits are serialized and never move
// a partition backwards, since the consumer and the publisher both release.
func (p *Pipeline) commit(ctx context.Context, raws []domain.RawEvent) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	for _, raw := range raws {
		key := partitionKey{topic: raw.Topic, partition: raw.Partition}
		if last, ok := p.committed[key]; ok && raw.Offset <= last {
			continue
		}
		p.committed[key] = raw.Offset
		if raw.Commit == nil {
			continue
		}
		if err := raw.Commit(ctx); err != nil {
			p.logger.Warn("commit offset failed", "error", err,
				"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
		}
	}
}
