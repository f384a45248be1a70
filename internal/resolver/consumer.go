package resolver

import (
	"weak"

	"github.com/couchcryptid/location-geocoder/internal/domain"
)

// DisplaySurface is a live text element that shows a record's address.
type DisplaySurface interface {
	SetText(text string)
}

// EventSink is notified once a record's geocoding result is available.
type EventSink interface {
	OnGeocodingResult(rec *domain.LocationRecord)
}

// Detacher is implemented by consumers that can stop being interested
// before they become unreachable.
type Detacher interface {
	Detached() bool
}

// Surface is a non-owning handle to a DisplaySurface.
type Surface struct {
	get func() DisplaySurface
}

// WeakSurface wraps s in a handle that does not keep s alive.
func WeakSurface[T any, P interface {
	*T
	DisplaySurface
}](s P) Surface {
	wp := weak.Make((*T)(s))
	return Surface{get: func() DisplaySurface {
		p := wp.Value()
		if p == nil {
			return nil
		}
		return P(p)
	}}
}

// Get returns the surface if it is still reachable and interested.
func (s Surface) Get() (DisplaySurface, bool) {
	if s.get == nil {
		return nil, false
	}
	v := s.get()
	if v == nil || detached(v) {
		return nil, false
	}
	return v, true
}

// Sink is a non-owning handle to an EventSink.
type Sink struct {
	get func() EventSink
}

// WeakSink wraps s in a handle that does not keep s alive.
func WeakSink[T any, P interface {
	*T
	EventSink
}](s P) Sink {
	wp := weak.Make((*T)(s))
	return Sink{get: func() EventSink {
		p := wp.Value()
		if p == nil {
			return nil
		}
		return P(p)
	}}
}

// Get returns the sink if it is still reachable and interested.
func (s Sink) Get() (EventSink, bool) {
	if s.get == nil {
		return nil, false
	}
	v := s.get()
	if v == nil || detached(v) {
		return nil, false
	}
	return v, true
}

func detached(v any) bool {
	d, ok := v.(Detacher)
	return ok && d.Detached()
}

type consumerKind int

const (
	displayConsumer consumerKind = iota + 1
	eventConsumer
)

func (k consumerKind) String() string {
	if k == displayConsumer {
		return "display"
	}
	return "event"
}

// consumer is the tagged union of the two delivery targets a job can be bound to.
type consumer struct {
	kind    consumerKind
	surface Surface
	sink    Sink
}

func displayTarget(s Surface) consumer { return consumer{kind: displayConsumer, surface: s} }

func eventTarget(s Sink) consumer { return consumer{kind: eventConsumer, sink: s} }

// reachable reports whether the consumer can still take a delivery.
func (c consumer) reachable() bool {
	switch c.kind {
	case displayConsumer:
		_, ok := c.surface.Get()
		return ok
	case eventConsumer:
		_, ok := c.sink.Get()
		return ok
	}
	return false
}

// deliver hands text for rec to the consumer. It returns false when the
// consumer was gone and nothing was delivered.
func (c consumer) deliver(rec *domain.LocationRecord, text string) bool {
	switch c.kind {
	case displayConsumer:
		s, ok := c.surface.Get()
		if !ok {
			return false
		}
		s.SetText(text)
		return true
	case eventConsumer:
		s, ok := c.sink.Get()
		if !ok || rec == nil {
			return false
		}
		s.OnGeocodingResult(rec)
		return true
	}
	return false
}
