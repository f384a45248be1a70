// Package resolver resolves location records to addresses in the background
// and delivers the result to display surfaces or event sinks.
//
// Lookups run on a bounded worker pool. Every completion is posted back to a
// single owning executor before it touches a record or a consumer, so
// consumers never see concurrent calls from the resolver. Jobs hold records
// and consumers through weak references: a consumer that is garbage
// collected, or that reports itself detached, silently misses its result.
//
// A transient failure (capability absent, lookup error) is retried exactly
// once without backoff. An empty candidate list is terminal and delivered as
// "not available".
package resolver

import (
	"context"
	"log/slog"
	"sync"
	"weak"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
)

// Resolver is the entry point for asynchronous reverse geocoding.
type Resolver struct {
	geocoder domain.Geocoder
	pool     *Pool
	owner    Executor
	logger   *slog.Logger
	metrics  *observability.Metrics

	inflight sync.WaitGroup
}

// New creates a Resolver. A nil geocoder is allowed and makes every attempt a
// transient failure. Completions run on owner.
func New(geocoder domain.Geocoder, pool *Pool, owner Executor, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		geocoder: geocoder,
		pool:     pool,
		owner:    owner,
		logger:   logger,
		metrics:  metrics,
	}
}

// ResolveForDisplay shows rec's address on surface. An already resolved
// record is written synchronously and no lookup is made. Otherwise the
// fallback text is written immediately and the address follows
// asynchronously.
func (r *Resolver) ResolveForDisplay(rec *domain.LocationRecord, surface Surface) {
	s, ok := surface.Get()
	if !ok {
		return
	}
	if rec.HasResolvedAddress() {
		s.SetText(rec.ResolvedAddress())
		return
	}
	s.SetText(rec.FallbackText())
	r.start(rec, displayTarget(surface))
}

// ResolveForEvent looks up rec's address and notifies sink when it is
// available. The lookup runs even if rec is already resolved.
func (r *Resolver) ResolveForEvent(rec *domain.LocationRecord, sink Sink) {
	r.start(rec, eventTarget(sink))
}

// Wait blocks until every dispatched job, including retries, has finalized.
func (r *Resolver) Wait() {
	r.inflight.Wait()
}

func (r *Resolver) start(rec *domain.LocationRecord, c consumer) {
	r.dispatch(&job{
		r:        r,
		record:   weak.Make(rec),
		coord:    rec.Coordinate(),
		consumer: c,
		attempt:  domain.FirstAttempt,
	})
}

// dispatch schedules j on the pool and routes its outcome back to the owner.
func (r *Resolver) dispatch(j *job) {
	r.inflight.Add(1)
	r.metrics.JobsInFlight.Inc()

	finish := func() {
		r.metrics.JobsInFlight.Dec()
		r.inflight.Done()
	}
	dropped := func() {
		r.metrics.Deliveries.WithLabelValues(j.consumer.kind.String(), "dropped").Inc()
		finish()
	}

	err := r.pool.Submit(func(ctx context.Context) {
		out := j.run(ctx)
		posted := r.owner.Post(func() {
			defer finish()
			j.complete(out)
		})
		if !posted {
			r.logger.Debug("owner loop stopped, dropping geocoding result")
			dropped()
		}
	}, dropped)
	if err != nil {
		r.logger.Warn("geocoding job not scheduled", "error", err, "attempt", j.attempt.String())
		dropped()
	}
}
