// Package domain models location reports and the reverse-geocoding capability
// used to annotate them with a human-readable address.
//
// # Location Messages
//
// Reports arrive in the OwnTracks JSON format published by mobile trackers:
//
//	{"_type":"location","tid":"ab","lat":52.5,"lon":13.4,"tst":1700000000,"acc":12}
//
// Only messages with _type "location" are parsed; other OwnTracks message
// types (transition, waypoint, card, ...) are rejected with [ErrNotLocation].
// "tst" is a Unix timestamp in seconds, "acc" the reported accuracy in meters.
//
// # Resolved Address
//
// A [LocationRecord] starts unresolved and shows its coordinate as fallback
// text ("52.5, 13.4"). The address slot is set-once: the first non-empty
// value written through [LocationRecord.SetResolvedAddress] wins and later
// writes are ignored. The literal [NotAvailable] is a valid terminal value,
// written when the geocoder has no candidates for the coordinate.
//
// # Outcomes
//
// Each geocoding attempt is classified by [Classify] into one of:
//
//	Resolved          top candidate's first address line (may be empty)
//	Unavailable       no candidates; carries "not available"
//	TransientFailure  capability absent or I/O error; retried once
//
// # ID Generation
//
// Record IDs are deterministic SHA-256 prefixes of tid|lat|lon|tst so that a
// replayed message produces the same key downstream. See [generateID].
package domain
