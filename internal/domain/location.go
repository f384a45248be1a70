package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrNotLocation is returned for OwnTracks messages of another _type.
	ErrNotLocation = errors.New("not a location message")

	// ErrInvalidCoordinate is returned when latitude or longitude is out of range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies within WGS-84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String renders the coordinate as "lat, lon".
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// LocationRecord is a location report annotated with its resolved address.
// The address slot is set-once and safe for concurrent access.
type LocationRecord struct {
	ID        string
	TrackerID string
	Accuracy  float64
	Timestamp time.Time

	coord Coordinate

	mu         sync.RWMutex
	address    string
	resolvedAt time.Time
}

// NewLocationRecord creates an unresolved record for the coordinate.
func NewLocationRecord(id string, c Coordinate) *LocationRecord {
	return &LocationRecord{ID: id, coord: c}
}

// Coordinate returns the record's position.
func (r *LocationRecord) Coordinate() Coordinate {
	return r.coord
}

// FallbackText is shown while the address is pending.
func (r *LocationRecord) FallbackText() string {
	return r.coord.String()
}

func (r *LocationRecord) HasResolvedAddress() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.address != ""
}

func (r *LocationRecord) ResolvedAddress() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.address
}

// ResolvedAt returns when the address was set, or the zero time.
func (r *LocationRecord) ResolvedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvedAt
}

// SetResolvedAddress stores addr if no address has been set yet. It returns
// false when the write was ignored. Empty strings never lock the slot.
func (r *LocationRecord) SetResolvedAddress(addr string) bool {
	if addr == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.address != "" {
		return false
	}
	r.address = addr
	r.resolvedAt = clock.Now().UTC()
	return true
}

// Snapshot copies the record into its publishable form.
func (r *LocationRecord) Snapshot() LocationSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := LocationSnapshot{
		ID:        r.ID,
		TrackerID: r.TrackerID,
		Lat:       r.coord.Lat,
		Lon:       r.coord.Lon,
		Accuracy:  r.Accuracy,
		Timestamp: r.Timestamp,
		Address:   r.address,
		Status:    StatusUnresolved,
	}
	if r.address != "" {
		at := r.resolvedAt
		s.Status = StatusResolved
		s.ResolvedAt = &at
	}
	return s
}

// ParseLocationMessage decodes an OwnTracks location payload into a record.
func ParseLocationMessage(raw RawEvent) (*LocationRecord, error) {
	var msg LocationMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return nil, fmt.Errorf("parse location message: %w", err)
	}
	if msg.Type != "location" {
		return nil, fmt.Errorf("%w: _type %q", ErrNotLocation, msg.Type)
	}

	c := Coordinate{Lat: msg.Lat, Lon: msg.Lon}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCoordinate, c)
	}

	ts := raw.Timestamp.UTC()
	if msg.Timestamp > 0 {
		ts = time.Unix(msg.Timestamp, 0).UTC()
	}

	rec := NewLocationRecord(generateID(msg.TrackerID, c, msg.Timestamp), c)
	rec.TrackerID = msg.TrackerID
	rec.Accuracy = msg.Accuracy
	rec.Timestamp = ts
	return rec, nil
}

// generateID returns a deterministic identifier for a location report.
func generateID(tid string, c Coordinate, tst int64) string {
	input := fmt.Sprintf("%s|%.6f|%.6f|%d", tid, c.Lat, c.Lon, tst)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if tid == "" {
		return short
	}
	return tid + "-" + short
}
