package domain

import (
	"context"
	"fmt"
)

// NotAvailable is the terminal text delivered when a coordinate has no
// address candidates.
const NotAvailable = "not available"

// Attempt tags a lookup as the first try or the single retry.
type Attempt int

const (
	FirstAttempt Attempt = iota + 1
	RetryAttempt
)

func (a Attempt) String() string {
	switch a {
	case FirstAttempt:
		return "first"
	case RetryAttempt:
		return "retry"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies a single geocoding attempt.
type OutcomeKind int

const (
	Resolved OutcomeKind = iota + 1
	Unavailable
	TransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Unavailable:
		return "unavailable"
	case TransientFailure:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt. Text is set for Resolved
// and Unavailable; Err is set for TransientFailure.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// Terminal reports whether the outcome is final and must be delivered.
func (o Outcome) Terminal() bool {
	return o.Kind == Resolved || o.Kind == Unavailable
}

// Classify performs exactly one lookup for c against geocoder and classifies
// the result. A nil geocoder counts as an absent capability.
func Classify(ctx context.Context, geocoder Geocoder, c Coordinate) Outcome {
	if geocoder == nil || !geocoder.Available() {
		return Outcome{Kind: TransientFailure, Err: ErrCapabilityUnavailable}
	}

	candidates, err := geocoder.ReverseGeocode(ctx, c.Lat, c.Lon, 1)
	if err != nil {
		return Outcome{Kind: TransientFailure, Err: fmt.Errorf("%w: %w", ErrLookupFailed, err)}
	}
	if len(candidates) == 0 {
		return Outcome{Kind: Unavailable, Text: NotAvailable}
	}

	// A top match without a first line is still a terminal success.
	line, _ := candidates[0].FirstLine()
	return Outcome{Kind: Resolved, Text: line}
}
