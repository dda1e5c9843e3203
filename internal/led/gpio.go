package led

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/coreman2200/bamtile/internal/layout"
)

type Level = gpio.Level

var ErrPin = errors.New("led: pin not found")

// Pins names the GPIO lines by their gpioreg names.
type Pins struct {
	Data  [layout.Chains]string
	Clock string
	Latch string
	Blank string
}

// GPIO bit-bangs the driver bus over periph GPIO lines. Write failures do
// not interrupt a transmission; the first one is kept and reported by Err.
type GPIO struct {
	data  [layout.Chains]gpio.PinOut
	clock gpio.PinOut
	latch gpio.PinOut
	blank gpio.PinOut

	err error
}

// NewGPIO looks the pins up in the registry. host.Init must have run.
func NewGPIO(p Pins) (*GPIO, error) {
	lookup := func(name string) (gpio.PinOut, error) {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("%w: %q", ErrPin, name)
		}
		return pin, nil
	}
	var (
		data [layout.Chains]gpio.PinOut
		err  error
	)
	for i, name := range p.Data {
		if data[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	clock, err := lookup(p.Clock)
	if err != nil {
		return nil, err
	}
	latch, err := lookup(p.Latch)
	if err != nil {
		return nil, err
	}
	blank, err := lookup(p.Blank)
	if err != nil {
		return nil, err
	}
	return NewGPIOFromPins(data, clock, latch, blank), nil
}

// NewGPIOFromPins wraps already opened pins. Outputs start blanked.
func NewGPIOFromPins(data [layout.Chains]gpio.PinOut, clock, latch, blank gpio.PinOut) *GPIO {
	g := &GPIO{data: data, clock: clock, latch: latch, blank: blank}
	g.out(g.blank, gpio.High)
	return g
}

func (g *GPIO) Data(b byte) {
	for i, p := range g.data {
		g.out(p, b&(1<<i) != 0)
	}
}

func (g *GPIO) Clock(l Level) { g.out(g.clock, l) }
func (g *GPIO) Latch(l Level) { g.out(g.latch, l) }
func (g *GPIO) Blank(l Level) { g.out(g.blank, l) }

func (g *GPIO) out(p gpio.PinOut, l Level) {
	if err := p.Out(l); err != nil && g.err == nil {
		g.err = fmt.Errorf("led: %s: %w", p, err)
	}
}

// Err returns the first write failure.
func (g *GPIO) Err() error {
	return g.err
}

// Close blanks the outputs and releases the pins.
func (g *GPIO) Close() error {
	g.out(g.blank, gpio.High)
	for _, p := range append(g.data[:], g.clock, g.latch) {
		if err := p.Halt(); err != nil && g.err == nil {
			g.err = err
		}
	}
	return g.err
}
