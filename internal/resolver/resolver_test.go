package resolver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errIO = errors.New("read: connection reset by peer")

func TestResolveForDisplay_ResolvesBerlin(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("Unter den Linden 1, Berlin")}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4", "Unter den Linden 1, Berlin"}, surface.Texts())
	assert.Equal(t, "Unter den Linden 1, Berlin", rec.ResolvedAddress())
	assert.Equal(t, 1, geo.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("first", "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("display", "delivered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsInFlight))
}

func TestResolveForDisplay_NoCandidatesDeliversNotAvailable(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{candidates: []domain.Address{}}}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4", "not available"}, surface.Texts())
	assert.Equal(t, "not available", rec.ResolvedAddress())
	assert.Equal(t, 1, geo.Calls(), "an empty result is terminal, not retried")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Retries))
}

func TestResolveForDisplay_RetriesOnceAfterTransientFailure(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{err: errIO}, found("Unter den Linden 1, Berlin")}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4", "Unter den Linden 1, Berlin"}, surface.Texts())
	assert.Equal(t, 2, geo.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("first", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("retry", "resolved")))
}

func TestResolveForDisplay_GivesUpAfterSecondFailure(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{err: errIO}, {err: errIO}}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4"}, surface.Texts(), "fallback text stays in place")
	assert.False(t, rec.HasResolvedAddress())
	assert.Equal(t, 2, geo.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GiveUps))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("display", "delivered")))
}

func TestResolveForDisplay_CapabilityUnavailable(t *testing.T) {
	geo := &scriptedGeocoder{unavailable: true}
	r, m := newTestResolver(t, geo, 2)

	surface := &recordingSurface{}
	r.ResolveForDisplay(berlinRecord(), WeakSurface(surface))
	r.Wait()

	assert.Equal(t, 0, geo.Calls(), "no lookup when the capability is absent")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("first", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("retry", "transient")))
	assert.Equal(t, []string{"52.5, 13.4"}, surface.Texts())
}

func TestResolveForDisplay_NilGeocoder(t *testing.T) {
	r, m := newTestResolver(t, nil, 1)

	surface := &recordingSurface{}
	r.ResolveForDisplay(berlinRecord(), WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4"}, surface.Texts())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GiveUps))
}

func TestResolveForDisplay_AlreadyResolvedShortCircuits(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("should not be used")}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	require.True(t, rec.SetResolvedAddress("Unter den Linden 1, Berlin"))
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))

	// Written synchronously, before any Wait.
	assert.Equal(t, []string{"Unter den Linden 1, Berlin"}, surface.Texts())

	r.Wait()
	assert.Equal(t, 0, geo.Calls())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LookupAttempts.WithLabelValues("first", "resolved")))
}

func TestResolveForDisplay_EmptyFirstLine(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{candidates: []domain.Address{{PlaceName: "no lines"}}}}}
	r, _ := newTestResolver(t, geo, 1)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4", ""}, surface.Texts())
	assert.False(t, rec.HasResolvedAddress(), "an empty address does not lock the record")
	assert.Equal(t, 1, geo.Calls())
}

func TestResolveForDisplay_DetachedSurfaceIsSkipped(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("Unter den Linden 1, Berlin")}, gate: make(chan struct{})}
	r, m := newTestResolver(t, geo, 1)

	rec := berlinRecord()
	surface := &recordingSurface{}

	r.ResolveForDisplay(rec, WeakSurface(surface))
	surface.detached.Store(true)
	close(geo.gate)
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4"}, surface.Texts())
	assert.True(t, rec.HasResolvedAddress(), "the record is still annotated")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("display", "dropped")))
}

func TestResolveForDisplay_DetachedSurfaceIsNotRetried(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{err: errIO}}, gate: make(chan struct{})}
	r, m := newTestResolver(t, geo, 1)

	surface := &recordingSurface{}
	r.ResolveForDisplay(berlinRecord(), WeakSurface(surface))
	surface.detached.Store(true)
	close(geo.gate)
	r.Wait()

	assert.Equal(t, 1, geo.Calls())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Retries))
}

func TestResolveForEvent_NotifiesSink(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("Unter den Linden 1, Berlin")}}
	r, m := newTestResolver(t, geo, 2)

	rec := berlinRecord()
	sink := &recordingSink{}

	r.ResolveForEvent(rec, WeakSink(sink))
	r.Wait()

	assert.Equal(t, []string{"Unter den Linden 1, Berlin"}, sink.Addresses())
	require.Len(t, sink.records, 1)
	assert.Same(t, rec, sink.records[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("event", "delivered")))
}

func TestResolveForEvent_DispatchesEvenWhenResolved(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("Pariser Platz, Berlin")}}
	r, _ := newTestResolver(t, geo, 1)

	rec := berlinRecord()
	rec.SetResolvedAddress("Unter den Linden 1, Berlin")
	sink := &recordingSink{}

	r.ResolveForEvent(rec, WeakSink(sink))
	r.Wait()

	assert.Equal(t, 1, geo.Calls())
	assert.Equal(t, []string{"Unter den Linden 1, Berlin"}, sink.Addresses(), "set-once keeps the first address")
}

func TestResolveForEvent_FailsTwiceWithoutNotification(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{err: errIO}}}
	r, _ := newTestResolver(t, geo, 1)

	sink := &recordingSink{}
	r.ResolveForEvent(berlinRecord(), WeakSink(sink))
	r.Wait()

	assert.Equal(t, 2, geo.Calls())
	assert.Empty(t, sink.Addresses())
}

// dispatchToEphemeralSink binds the lookup to a sink that nothing else references.
func dispatchToEphemeralSink(r *Resolver, rec *domain.LocationRecord, hits *atomic.Int32) {
	r.ResolveForEvent(rec, WeakSink(&countingSink{hits: hits, name: "ephemeral"}))
}

func TestResolveForEvent_CollectedSinkIsSkipped(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("Unter den Linden 1, Berlin")}, gate: make(chan struct{})}
	r, m := newTestResolver(t, geo, 1)

	rec := berlinRecord()
	var hits atomic.Int32
	dispatchToEphemeralSink(r, rec, &hits)

	runtime.GC()
	runtime.GC()
	close(geo.gate)
	r.Wait()

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("event", "dropped")))
	runtime.KeepAlive(rec)
}

func TestResolve_RetryRunsAfterFirstAttemptCompletes(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{{err: errIO}, found("Unter den Linden 1, Berlin")}}
	r, _ := newTestResolver(t, geo, 4)

	r.ResolveForDisplay(berlinRecord(), WeakSurface(&recordingSurface{}))
	r.Wait()

	assert.Equal(t, 1, geo.MaxActive(), "attempts for one request never overlap")
}

func TestResolve_ManyRecordsRespectPoolBound(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("somewhere")}, gate: make(chan struct{})}
	r, _ := newTestResolver(t, geo, 2)

	const n = 10
	surfaces := make([]*recordingSurface, n)
	records := make([]*domain.LocationRecord, n)
	for i := range n {
		surfaces[i] = &recordingSurface{}
		records[i] = domain.NewLocationRecord(fmt.Sprintf("rec-%d", i), domain.Coordinate{Lat: float64(i), Lon: float64(i)})
		r.ResolveForDisplay(records[i], WeakSurface(surfaces[i]))
	}

	assert.Eventually(t, func() bool { return geo.Calls() == 2 }, time.Second, 5*time.Millisecond)
	close(geo.gate)
	r.Wait()

	assert.Equal(t, n, geo.Calls())
	assert.LessOrEqual(t, geo.MaxActive(), 2)
	for i := range n {
		assert.Equal(t, "somewhere", records[i].ResolvedAddress())
		assert.Len(t, surfaces[i].Texts(), 2)
	}
}

func TestResolve_PoolClosedDropsSilently(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("x")}}
	loop := NewLoop()
	pool := NewPool(1)
	pool.Close()
	r := New(geo, pool, loop, discardLogger(), observability.NewMetricsForTesting())

	surface := &recordingSurface{}
	r.ResolveForDisplay(berlinRecord(), WeakSurface(surface))
	r.Wait()

	assert.Equal(t, []string{"52.5, 13.4"}, surface.Texts())
	assert.Equal(t, 0, geo.Calls())
}

func TestResolve_StoppedOwnerDropsResult(t *testing.T) {
	geo := &scriptedGeocoder{replies: []reply{found("x")}}
	loop := NewLoop()
	loop.Stop()
	pool := NewPool(1)
	t.Cleanup(pool.Close)
	r := New(geo, pool, loop, discardLogger(), observability.NewMetricsForTesting())

	sink := &recordingSink{}
	r.ResolveForEvent(berlinRecord(), WeakSink(sink))
	r.Wait()

	assert.Equal(t, 1, geo.Calls())
	assert.Empty(t, sink.Addresses())
}

func TestResolve_WaitReturnsWhenOwnerStopsMidFlight(t *testing.T) {
	gate := make(chan struct{})
	geo := &scriptedGeocoder{replies: []reply{found("x")}, gate: gate}
	loop := NewLoop()
	loopDone := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(loopDone)
	}()
	pool := NewPool(2)
	t.Cleanup(pool.Close)
	r := New(geo, pool, loop, discardLogger(), observability.NewMetricsForTesting())

	sinks := make([]*recordingSink, 4)
	records := make([]*domain.LocationRecord, 4)
	for i := range sinks {
		sinks[i] = &recordingSink{}
		records[i] = berlinRecord()
		r.ResolveForEvent(records[i], WeakSink(sinks[i]))
	}
	require.Eventually(t, func() bool { return geo.Calls() == 2 }, time.Second, 5*time.Millisecond)

	loop.Stop()
	close(gate)

	waited := make(chan struct{})
	go func() {
		r.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the owner loop stopped")
	}
	<-loopDone
	runtime.KeepAlive(sinks)
	runtime.KeepAlive(records)
}
