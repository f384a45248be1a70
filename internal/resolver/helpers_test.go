package resolver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
)

// --- scripted geocoder ---

type reply struct {
	candidates []domain.Address
	err        error
}

// scriptedGeocoder answers calls from replies in order, repeating the last one.
// When gate is non-nil every call blocks until gate is closed.
type scriptedGeocoder struct {
	unavailable bool
	replies     []reply
	gate        chan struct{}

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func (g *scriptedGeocoder) Available() bool { return !g.unavailable }

func (g *scriptedGeocoder) ReverseGeocode(_ context.Context, _, _ float64, _ int) ([]domain.Address, error) {
	g.mu.Lock()
	idx := g.calls
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	g.calls++
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	if g.gate != nil {
		<-g.gate
	}

	g.mu.Lock()
	g.active--
	g.mu.Unlock()

	if idx < 0 {
		return nil, nil
	}
	return g.replies[idx].candidates, g.replies[idx].err
}

func (g *scriptedGeocoder) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGeocoder) MaxActive() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive
}

func found(lines ...string) reply {
	return reply{candidates: []domain.Address{{Lines: lines}}}
}

// --- consumers ---

type recordingSurface struct {
	mu       sync.Mutex
	texts    []string
	detached atomic.Bool
}

func (s *recordingSurface) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *recordingSurface) Detached() bool { return s.detached.Load() }

func (s *recordingSurface) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type recordingSink struct {
	mu        sync.Mutex
	records   []*domain.LocationRecord
	addresses []string
}

func (s *recordingSink) OnGeocodingResult(rec *domain.LocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.addresses = append(s.addresses, rec.ResolvedAddress())
}

func (s *recordingSink) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addresses...)
}

// countingSink only bumps a shared counter, so the sink itself can become
// unreachable while the counter stays observable.
type countingSink struct {
	hits *atomic.Int32
	name string
}

func (s *countingSink) OnGeocodingResult(_ *domain.LocationRecord) { s.hits.Add(1) }

// --- harness ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(t *testing.T, geo domain.Geocoder, workers int) (*Resolver, *observability.Metrics) {
	t.Helper()

	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	pool := NewPool(workers)
	metrics := observability.NewMetricsForTesting()
	r := New(geo, pool, loop, discardLogger(), metrics)

	t.Cleanup(func() {
		pool.Close()
		cancel()
		<-done
	})
	return r, metrics
}

func berlinRecord() *domain.LocationRecord {
	return domain.NewLocationRecord("rec-1", domain.Coordinate{Lat: 52.5, Lon: 13.4})
}
