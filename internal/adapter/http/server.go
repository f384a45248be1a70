package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/resolver"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
)

// DisplayResolver resolves a record into a live text surface.
type DisplayResolver interface {
	ResolveForDisplay(rec *domain.LocationRecord, surface resolver.Surface)
}

// Server exposes health, readiness, metrics, and reverse geocoding endpoints.
type Server struct {
	httpServer *http.Server
	display    DisplayResolver
	wait       time.Duration
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /v1/reverse routes. wait bounds how long a reverse lookup holds the request
// open for the resolved address.
func NewServer(addr string, ready sharedobs.ReadinessChecker, display DisplayResolver, wait time.Duration, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: wait + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		display: display,
		wait:    wait,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/reverse", s.handleReverse)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type reverseResponse struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Text     string  `json:"text"`
	Resolved bool    `json:"resolved"`
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoordinate(r)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec := domain.NewLocationRecord(xid.New().String(), c)
	rec.Timestamp = time.Now().UTC()

	surface := newResponseSurface()
	defer surface.detach()

	s.display.ResolveForDisplay(rec, resolver.WeakSurface(surface))

	if !rec.HasResolvedAddress() {
		timer := time.NewTimer(s.wait)
		defer timer.Stop()

		select {
		case <-surface.updated:
		case <-timer.C:
			s.logger.Debug("reverse lookup still pending, answering with fallback",
				"record_id", rec.ID, "wait", s.wait)
		case <-r.Context().Done():
			return
		}
	}

	sharedobs.WriteJSON(w, http.StatusOK, reverseResponse{
		ID:       rec.ID,
		Lat:      c.Lat,
		Lon:      c.Lon,
		Text:     surface.Text(),
		Resolved: rec.HasResolvedAddress(),
	})
}

func parseCoordinate(r *http.Request) (domain.Coordinate, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("missing or invalid lat parameter: %w", err)
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("missing or invalid lon parameter: %w", err)
	}
	c := domain.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return domain.Coordinate{}, domain.ErrInvalidCoordinate
	}
	return c, nil
}
