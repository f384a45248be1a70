package pipeline

import (
	"sync"

	"github.com/couchcryptid/location-geocoder/internal/domain"
)

type partitionKey struct {
	topic     string
	partition int
}

// trackedOffset is one fetched message awaiting its outcome.
type trackedOffset struct {
	raw  domain.RawEvent
	done bool
}

// offsetTracker releases offsets for commit in fetch order per partition. A
// message is only committed once it and every earlier message of its
// partition are finished, so a slow record is never skipped by a faster one.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey][]*trackedOffset
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey][]*trackedOffset)}
}

// track registers raw in fetch order and returns its handle.
func (t *offsetTracker) track(raw domain.RawEvent) *trackedOffset {
	o := &trackedOffset{raw: raw}
	key := partitionKey{topic: raw.Topic, partition: raw.Partition}

	t.mu.Lock()
	t.partitions[key] = append(t.partitions[key], o)
	t.mu.Unlock()
	return o
}

// finish marks the given offsets done and returns, per partition, the
// highest message whose predecessors are all done. Committing it covers
// every earlier offset of that partition.
func (t *offsetTracker) finish(offsets ...*trackedOffset) []domain.RawEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := make(map[partitionKey]bool)
	for _, o := range offsets {
		o.done = true
		touched[partitionKey{topic: o.raw.Topic, partition: o.raw.Partition}] = true
	}

	var commits []domain.RawEvent
	for key := range touched {
		queue := t.partitions[key]
		n := 0
		for n < len(queue) && queue[n].done {
			n++
		}
		if n == 0 {
			continue
		}
		commits = append(commits, queue[n-1].raw)
		rest := queue[n:]
		if len(rest) == 0 {
			delete(t.partitions, key)
		} else {
			t.partitions[key] = rest
		}
	}
	return commits
}
