package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// LocationMessage is the OwnTracks location payload as published by trackers.
type LocationMessage struct {
	Type      string  `json:"_type"`
	TrackerID string  `json:"tid"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"tst"`
	Accuracy  float64 `json:"acc,omitempty"`
}

// Record status values carried on published snapshots.
const (
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
)

// LocationSnapshot is the serialized form of a record destined for the sink topic.
type LocationSnapshot struct {
	ID         string     `json:"id"`
	TrackerID  string     `json:"tid,omitempty"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Accuracy   float64    `json:"acc,omitempty"`
	Timestamp  time.Time  `json:"tst"`
	Address    string     `json:"address,omitempty"`
	Status     string     `json:"status"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
