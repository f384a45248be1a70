package resolver

import (
	"context"
	"weak"

	"github.com/couchcryptid/location-geocoder/internal/domain"
)

// job is one lookup attempt for a (record, consumer) pair. It holds only weak
// references, so an abandoned record or consumer is never kept alive by it.
type job struct {
	r        *Resolver
	record   weak.Pointer[domain.LocationRecord]
	coord    domain.Coordinate
	consumer consumer
	attempt  domain.Attempt
}

// run performs the attempt off the owning loop. It touches neither the
// record nor the consumer.
func (j *job) run(ctx context.Context) domain.Outcome {
	out := domain.Classify(ctx, j.r.geocoder, j.coord)
	j.r.metrics.LookupAttempts.WithLabelValues(j.attempt.String(), out.Kind.String()).Inc()
	return out
}

// complete finalizes the attempt on the owning loop: retry once on a
// transient failure, otherwise record and deliver the result.
func (j *job) complete(out domain.Outcome) {
	log := j.r.logger.With(
		"lat", j.coord.Lat,
		"lon", j.coord.Lon,
		"attempt", j.attempt.String(),
		"consumer", j.consumer.kind.String(),
	)

	rec := j.record.Value()

	if !out.Terminal() {
		if j.attempt == domain.FirstAttempt {
			if rec == nil || !j.consumer.reachable() {
				log.Debug("consumer gone before retry, dropping", "error", out.Err)
				j.r.metrics.Deliveries.WithLabelValues(j.consumer.kind.String(), "dropped").Inc()
				return
			}
			log.Debug("retrying geocoding lookup", "error", out.Err)
			j.r.metrics.Retries.Inc()
			j.r.dispatch(&job{
				r:        j.r,
				record:   j.record,
				coord:    j.coord,
				consumer: j.consumer,
				attempt:  domain.RetryAttempt,
			})
			return
		}
		log.Warn("geocoding failed after retry, giving up", "error", out.Err)
		j.r.metrics.GiveUps.Inc()
		return
	}

	if rec == nil {
		log.Debug("record gone, dropping result")
		j.r.metrics.Deliveries.WithLabelValues(j.consumer.kind.String(), "dropped").Inc()
		return
	}

	rec.SetResolvedAddress(out.Text)

	if !j.consumer.deliver(rec, out.Text) {
		log.Debug("consumer gone, dropping result", "record_id", rec.ID)
		j.r.metrics.Deliveries.WithLabelValues(j.consumer.kind.String(), "dropped").Inc()
		return
	}
	log.Debug("geocoding result delivered", "record_id", rec.ID, "outcome", out.Kind.String())
	j.r.metrics.Deliveries.WithLabelValues(j.consumer.kind.String(), "delivered").Inc()
}
