// Package link is the upstream side of the tile's serial link: it shifts
// frames one byte per latch pulse and encodes the buffer-reset and resync
// commands as extra transfers inside a held latch.
package link

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/bamtile/internal/pattern"
)

// Port drives the two upstream lines.
type Port interface {
	// Shift clocks one byte out on the serial line.
	Shift(b byte) error
	SetLatch(l gpio.Level) error
}

type Sender struct {
	port Port
	// Gap is held after every latch edge so the receiver's main loop can
	// consume the byte before the next one lands.
	Gap   time.Duration
	Sleep func(time.Duration)

	frames uint64
}

func NewSender(p Port) *Sender {
	return &Sender{port: p, Sleep: time.Sleep}
}

func (s *Sender) wait() {
	if s.Gap > 0 && s.Sleep != nil {
		s.Sleep(s.Gap)
	}
}

func (s *Sender) latch(l gpio.Level) error {
	if err := s.port.SetLatch(l); err != nil {
		return fmt.Errorf("link: latch %s: %w", l, err)
	}
	s.wait()
	return nil
}

// pulse delivers one byte: shift with the latch low, then a latch pulse.
func (s *Sender) pulse(b byte) error {
	if err := s.port.Shift(b); err != nil {
		return fmt.Errorf("link: shift: %w", err)
	}
	if err := s.latch(gpio.High); err != nil {
		return err
	}
	return s.latch(gpio.Low)
}

// SendFrame sends every channel in scan order followed by the commit pulse
// that makes the tile swap buffers.
func (s *Sender) SendFrame(ctx context.Context, f *pattern.Frame) error {
	for ch, v := range f {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("link: frame aborted at channel %d: %w", ch, err)
		}
		if err := s.pulse(v); err != nil {
			return err
		}
	}
	if err := s.pulse(0); err != nil {
		return err
	}
	s.frames++
	return nil
}

// command holds the latch high across n no-data transfers.
func (s *Sender) command(n int) error {
	if err := s.latch(gpio.High); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := s.port.Shift(0); err != nil {
			return fmt.Errorf("link: command shift: %w", err)
		}
		s.wait()
	}
	return s.latch(gpio.Low)
}

// ResetBuffer makes the tile restart reception at channel 0.
func (s *Sender) ResetBuffer() error {
	return s.command(1)
}

// Resync resets the receive buffer and restarts the tile's BAM cycle at
// step 0. Sent to every tile of a chain at once it brings them in phase.
func (s *Sender) Resync() error {
	return s.command(2)
}

func (s *Sender) Frames() uint64 { return s.frames }
