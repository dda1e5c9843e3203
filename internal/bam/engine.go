package bam

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3/cpu"
)

// Bus is the output side wired to the driver chips: six data lines and one
// clock shared by the chains, plus a shared latch and blank.
type Bus interface {
	// Data drives bit n of b onto the data line of chain n.
	Data(b byte)
	Clock(l gpio.Level)
	Latch(l gpio.Level)
	// Blank high turns every driver output off.
	Blank(l gpio.Level)
}

// Timer is the periodic step timer. Load sets the period used by the next
// Start; expiry must call Engine.HandleTimer.
type Timer interface {
	Stop()
	Load(d time.Duration)
	Start()
}

// stepOffset locates each step's plane inside a block for transmission.
var stepOffset = [Steps]int{
	0 * PlaneSize, 1 * PlaneSize, 2 * PlaneSize, 3 * PlaneSize,
	4 * PlaneSize, 5 * PlaneSize, 6 * PlaneSize, 7 * PlaneSize,
}

// Engine steps through the planes of the store's front block and clocks
// each plane into the driver chips one step ahead of its display time.
//
// HandleTimer and everything it calls must run to completion without
// yielding: a partially shifted plane gets latched as garbage. It takes no
// locks, allocates nothing and only busy-waits.
type Engine struct {
	store   *Store
	bus     Bus
	timer   Timer
	timing  Timing
	periods [Steps]time.Duration

	// Delay busy-waits between bus edges. Defaults to cpu.Nanospin.
	Delay func(time.Duration)

	step uint8
}

func NewEngine(store *Store, bus Bus, timer Timer, timing Timing) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		timer:   timer,
		timing:  timing,
		periods: timing.Periods(),
		Delay:   cpu.Nanospin,
	}
}

// Step returns the step whose plane was last clocked out.
func (e *Engine) Step() int {
	return int(e.step)
}

func (e *Engine) Timing() Timing {
	return e.timing
}

// Init blanks the outputs, clears both buffers, rewinds the step counter,
// flushes zeros through every chain and unblanks.
func (e *Engine) Init() {
	e.bus.Blank(gpio.High)
	e.bus.Latch(gpio.Low)
	e.bus.Clock(gpio.Low)
	e.bus.Data(0)

	e.timer.Stop()
	e.store.Clear()
	e.step = 0
	e.timer.Load(e.periods[0])

	e.clearDrivers()
	e.bus.Blank(gpio.Low)
}

func (e *Engine) clearDrivers() {
	for i := 0; i < PlaneSize; i++ {
		e.bus.Data(0)
		e.bus.Clock(gpio.High)
		e.delay(e.timing.ClearPhase)
		e.bus.Clock(gpio.Low)
		e.delay(e.timing.ClearPhase)
	}
	e.bus.Latch(gpio.High)
	e.delay(e.timing.ClearLatch)
	e.bus.Latch(gpio.Low)
}

// Start arms the step timer.
func (e *Engine) Start() {
	e.timer.Start()
}

// Reset stops the timer and rewinds to step 0 so several tiles can be
// brought back in phase. Start resumes.
func (e *Engine) Reset() {
	e.timer.Stop()
	e.step = 0
	e.timer.Load(e.periods[0])
}

// HandleTimer is the step timer interrupt. It latches the plane clocked out
// last time, which stays lit for the period of the step being left, then
// shifts in the next plane.
func (e *Engine) HandleTimer() {
	s := e.step
	e.timer.Stop()
	e.timer.Load(e.periods[s])
	s++
	if s >= Steps {
		s = 0
	}
	e.step = s
	e.bus.Latch(gpio.High)
	e.timer.Start()
	e.transmit(s)
}

func (e *Engine) transmit(step uint8) {
	off := stepOffset[step]
	plane := e.store.Front()[off : off+PlaneSize]
	e.bus.Latch(gpio.Low)
	for _, b := range plane {
		e.bus.Clock(gpio.Low)
		e.bus.Data(b)
		e.delay(e.timing.SPILow)
		e.bus.Clock(gpio.High)
		e.delay(e.timing.SPIHigh)
	}
	e.bus.Clock(gpio.Low)
}

func (e *Engine) delay(d time.Duration) {
	if d > 0 && e.Delay != nil {
		e.Delay(d)
	}
}

// Profile clocks out n planes with the configured delays and returns the
// slowest. Run it before Start; it drives the bus directly.
func Profile(e *Engine, n int) time.Duration {
	var worst time.Duration
	for i := 0; i < n; i++ {
		t := time.Now()
		e.transmit(uint8(i % Steps))
		if d := time.Since(t); d > worst {
			worst = d
		}
	}
	return worst
}
