package tile

import (
	"sync"
	"time"
)

// SoftTimer is a bam.Timer on top of time.AfterFunc. Each Start is a new
// arming with its own generation; expiries of earlier armings that are
// still queued when the timer is stopped or rearmed are recognised by
// Current and ignored.
type SoftTimer struct {
	mu     sync.Mutex
	period time.Duration
	t      *time.Timer
	gen    uint32
	fire   func(gen uint32)
}

func NewSoftTimer(fire func(gen uint32)) *SoftTimer {
	return &SoftTimer{fire: fire}
}

func (s *SoftTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
}

func (s *SoftTimer) halt() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.gen++
}

// Load sets the period of the next arming.
func (s *SoftTimer) Load(d time.Duration) {
	s.mu.Lock()
	s.period = d
	s.mu.Unlock()
}

func (s *SoftTimer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	gen := s.gen
	s.t = time.AfterFunc(s.period, func() { s.fire(gen) })
}

// Current reports whether gen belongs to the live arming.
func (s *SoftTimer) Current(gen uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t != nil && gen == s.gen
}
