package http

import (
	"sync"
	"sync/atomic"
)

// responseSurface collects the text written for one reverse request. The
// first write is the coordinate fallback; the second is the final answer.
type responseSurface struct {
	mu       sync.Mutex
	text     string
	writes   int
	updated  chan struct{}
	detached atomic.Bool
}

func newResponseSurface() *responseSurface {
	return &responseSurface{updated: make(chan struct{})}
}

func (s *responseSurface) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	s.writes++
	if s.writes == 2 {
		close(s.updated)
	}
}

func (s *responseSurface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Detached reports true once the request has been answered.
func (s *responseSurface) Detached() bool {
	return s.detached.Load()
}

func (s *responseSurface) detach() {
	s.detached.Store(true)
}
