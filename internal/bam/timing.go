package bam

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

var ErrTiming = errors.New("bam: timing violation")

// Timing holds the step periods and the bit-bang phase lengths.
type Timing struct {
	// Step0 is the display time of the least significant plane. Plane p is
	// shown for Step0<<p.
	Step0 time.Duration
	// SPILow is the data settle time with the clock low, SPIHigh the clock
	// high time. Every byte costs one of each.
	SPILow  time.Duration
	SPIHigh time.Duration
	// ClearPhase and ClearLatch time the one-off driver clear at init.
	ClearPhase time.Duration
	ClearLatch time.Duration
}

var DefaultTiming = Timing{
	Step0:      32 * time.Microsecond,
	SPILow:     250 * time.Nanosecond,
	SPIHigh:    250 * time.Nanosecond,
	ClearPhase: 10 * time.Microsecond,
	ClearLatch: 100 * time.Microsecond,
}

// Period returns the timer reload for step.
func (t Timing) Period(step int) time.Duration {
	return t.Step0 << step
}

func (t Timing) Periods() [Steps]time.Duration {
	var p [Steps]time.Duration
	for i := range p {
		p[i] = t.Period(i)
	}
	return p
}

// TransmitBudget is the time spent in delays while clocking one plane out.
func (t Timing) TransmitBudget() time.Duration {
	return PlaneSize * (t.SPILow + t.SPIHigh)
}

// CycleTime is the length of one full pass over all planes.
func (t Timing) CycleTime() time.Duration {
	return t.Step0 * (1<<Steps - 1)
}

func (t Timing) RefreshRate() physic.Frequency {
	c := t.CycleTime()
	if c <= 0 {
		return 0
	}
	return physic.Frequency(int64(time.Second) * int64(physic.Hertz) / int64(c))
}

// Validate checks the transmission fits inside the shortest step and that a
// full cycle repeats at least min times a second.
func (t Timing) Validate(min physic.Frequency) error {
	if t.Step0 <= 0 || t.SPILow < 0 || t.SPIHigh < 0 {
		return fmt.Errorf("%w: non-positive periods %+v", ErrTiming, t)
	}
	if t.Step0<<(Steps-1) <= 0 {
		return fmt.Errorf("%w: step 0 period %s overflows at step %d", ErrTiming, t.Step0, Steps-1)
	}
	if b := t.TransmitBudget(); b >= t.Step0 {
		return fmt.Errorf("%w: transmission takes %s, step 0 lasts %s", ErrTiming, b, t.Step0)
	}
	if min > 0 && t.RefreshRate() < min {
		return fmt.Errorf("%w: refresh %s below %s", ErrTiming, t.RefreshRate(), min)
	}
	return nil
}
