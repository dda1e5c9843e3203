// Package rx receives frames from the upstream controller: one byte per
// external latch pulse, plus the reset and resync commands carried by extra
// serial transfers while the latch is held.
//
// The latch and serial handlers run in interrupt context and Poll runs in
// the main loop, all on the tile's dispatch goroutine. The valid flag is the
// only hand-off between them: the captured byte is written before valid is
// raised and read after it is seen.
package rx

import (
	"sync/atomic"

	"github.com/coreman2200/bamtile/internal/layout"
)

// Assembler takes frame bytes and commits complete frames.
type Assembler interface {
	Assemble(value byte, channel int) error
	Swap()
}

// Cycle restarts the BAM step sequence.
type Cycle interface {
	Reset()
	Start()
}

// CommandState counts serial transfers seen while the latch stays high.
type CommandState uint8

const (
	AwaitFirst CommandState = iota
	AwaitSecond
)

func (c CommandState) String() string {
	if c == AwaitFirst {
		return "await-first"
	}
	return "await-second"
}

// Peripheral is the serial slave's register file.
type Peripheral struct {
	data     byte
	complete bool
	irq      bool
}

// shift clocks b into the data register and reports whether the
// transfer-complete interrupt is enabled.
func (p *Peripheral) shift(b byte) bool {
	p.data = b
	p.complete = true
	return p.irq
}

// take reads the data register, clearing the complete flag.
func (p *Peripheral) take() (byte, bool) {
	ok := p.complete
	p.complete = false
	return p.data, ok
}

// Stats are updated on the dispatch goroutine and safe to read anywhere.
type Stats struct {
	Bytes        atomic.Uint64
	Frames       atomic.Uint64
	BufferResets atomic.Uint64
	Resyncs      atomic.Uint64
	// Overwritten counts captured bytes replaced before Poll consumed them.
	Overwritten atomic.Uint64
}

// Snapshot is a plain copy of Stats.
type Snapshot struct {
	Bytes        uint64 `json:"bytes"`
	Frames       uint64 `json:"frames"`
	BufferResets uint64 `json:"buffer_resets"`
	Resyncs      uint64 `json:"resyncs"`
	Overwritten  uint64 `json:"overwritten"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Bytes:        s.Bytes.Load(),
		Frames:       s.Frames.Load(),
		BufferResets: s.BufferResets.Load(),
		Resyncs:      s.Resyncs.Load(),
		Overwritten:  s.Overwritten.Load(),
	}
}

// Receiver is the reception state machine.
type Receiver struct {
	asm   Assembler
	cycle Cycle

	periph Peripheral
	last   byte
	count  int
	valid  atomic.Bool

	latch bool
	cmd   CommandState

	Stats Stats
}

func NewReceiver(asm Assembler, cycle Cycle) *Receiver {
	r := &Receiver{asm: asm, cycle: cycle}
	r.Init()
	return r
}

// Init clears the receive state, masks the serial interrupt and waits for
// the first command transfer.
func (r *Receiver) Init() {
	r.periph = Peripheral{}
	r.clear()
	r.latch = false
	r.cmd = AwaitFirst
}

func (r *Receiver) clear() {
	r.last = 0
	r.count = 0
	r.valid.Store(false)
	r.periph.take()
}

// LatchRise handles the external latch going active: a completed transfer
// is captured and the serial interrupt is unmasked.
func (r *Receiver) LatchRise() {
	r.latch = true
	if b, ok := r.periph.take(); ok {
		if r.valid.Load() {
			r.Stats.Overwritten.Add(1)
		}
		r.last = b
		r.valid.Store(true)
	}
	r.periph.irq = true
}

// LatchFall masks the serial interrupt and ends any command sequence.
func (r *Receiver) LatchFall() {
	r.latch = false
	r.periph.irq = false
	r.cmd = AwaitFirst
}

// Serial handles one byte clocked into the peripheral. It only reaches the
// command logic while the interrupt is unmasked, i.e. the latch is held.
func (r *Receiver) Serial(b byte) {
	if r.periph.shift(b) {
		r.serialComplete()
	}
}

// serialComplete is the transfer-complete interrupt. The first one while the
// latch is held resets the receive buffer, the next ones also restart the
// BAM cycle.
func (r *Receiver) serialComplete() {
	r.clear()
	if r.cmd == AwaitSecond {
		r.Stats.Resyncs.Add(1)
		r.cycle.Reset()
		r.cycle.Start()
	} else {
		r.Stats.BufferResets.Add(1)
	}
	r.cmd = AwaitSecond
}

// Poll is the main-loop consumer. A captured byte goes to the assembler at
// the next channel; the capture after the last channel commits the frame
// instead and is dropped.
func (r *Receiver) Poll() {
	if !r.valid.Load() {
		return
	}
	if r.count < layout.Channels {
		// count is always in range here.
		_ = r.asm.Assemble(r.last, r.count)
		r.count++
		r.Stats.Bytes.Add(1)
	} else {
		r.asm.Swap()
		r.count = 0
		r.Stats.Frames.Add(1)
	}
	r.valid.Store(false)
}

// Counter returns the next channel to be assembled.
func (r *Receiver) Counter() int { return r.count }

// Valid reports whether a captured byte waits for Poll.
func (r *Receiver) Valid() bool { return r.valid.Load() }

func (r *Receiver) Command() CommandState { return r.cmd }

func (r *Receiver) Latched() bool { return r.latch }
