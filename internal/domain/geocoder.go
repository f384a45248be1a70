package domain

import (
	"context"
	"errors"
)

var (
	// ErrCapabilityUnavailable is reported when no geocoder is configured or
	// the configured one cannot serve requests.
	ErrCapabilityUnavailable = errors.New("geocoding capability unavailable")

	// ErrLookupFailed wraps I/O-level failures of a geocoding call.
	ErrLookupFailed = errors.New("geocoding lookup failed")
)

// Address is one candidate returned by a reverse geocoding lookup.
type Address struct {
	Lines     []string // formatted address lines, most specific first
	PlaceName string
	Lat       float64
	Lon       float64
	Relevance float64 // 0.0–1.0 provider confidence score
}

// FirstLine returns the formatted first address line and whether the
// candidate has one.
func (a Address) FirstLine() (string, bool) {
	if len(a.Lines) == 0 {
		return "", false
	}
	return a.Lines[0], true
}

// Geocoder translates coordinates into ranked address candidates.
// Implementations must be safe for concurrent use.
type Geocoder interface {
	// Available reports whether the capability can currently serve lookups.
	// It is checked before every attempt.
	Available() bool

	// ReverseGeocode returns up to limit candidates for the coordinate, best
	// match first. An empty slice means the coordinate has no known address;
	// an error means the lookup itself did not complete.
	ReverseGeocode(ctx context.Context, lat, lon float64, limit int) ([]Address, error)
}
