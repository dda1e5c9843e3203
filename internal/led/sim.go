package led

import (
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/bamtile/internal/layout"
)

// Sim models the six TLC59281 strings: a 32-bit shift register per chain
// clocked on the rising edge, an output register loaded on the rising edge
// of latch, and blank gating every output.
type Sim struct {
	mu    sync.Mutex
	shift [layout.Chains]uint32
	out   [layout.Chains]uint32
	data  byte
	clock Level
	latch Level
	blank Level

	clocks  int
	latches int
}

// NewSim returns a simulator with blank asserted, as at power on.
func NewSim() *Sim {
	return &Sim{blank: gpio.High}
}

func (s *Sim) Data(b byte) {
	s.mu.Lock()
	s.data = b
	s.mu.Unlock()
}

func (s *Sim) Clock(l Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l && !s.clock {
		for ch := range s.shift {
			s.shift[ch] = s.shift[ch]<<1 | uint32(s.data>>ch&1)
		}
		s.clocks++
	}
	s.clock = l
}

func (s *Sim) Latch(l Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l && !s.latch {
		s.out = s.shift
		s.latches++
	}
	s.latch = l
}

func (s *Sim) Blank(l Level) {
	s.mu.Lock()
	s.blank = l
	s.mu.Unlock()
}

func (s *Sim) Close() error { return nil }

// Lit reports whether driver output out of chain is on. Output 31 holds
// the first bit shifted in.
func (s *Sim) Lit(chain, out int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blank == gpio.Low && s.out[chain]>>out&1 != 0
}

// Outputs returns the latched registers, zero while blanked.
func (s *Sim) Outputs() [layout.Chains]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blank {
		return [layout.Chains]uint32{}
	}
	return s.out
}

// Counts returns the number of clock and latch rising edges seen.
func (s *Sim) Counts() (clocks, latches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks, s.latches
}
