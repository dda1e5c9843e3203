// Package tile runs one LED tile: the BAM engine, the frame receiver and the
// dispatch loop that stands in for the interrupt controller.
//
// Each hardware interrupt is an Event. Events are queued by their sources
// (step timer, latch pin, serial link) and consumed by a single goroutine,
// so no handler ever runs concurrently with another handler or with the
// main-loop poll. After every batch of events the loop polls the receiver
// once, which gives interrupts priority over frame assembly the way the
// hardware does.
package tile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/rx"
)

type Kind uint8

const (
	// Timer is the BAM step timer expiring.
	Timer Kind = iota
	LatchRise
	LatchFall
	// Serial is a byte clocked into the serial peripheral.
	Serial
)

func (k Kind) String() string {
	switch k {
	case Timer:
		return "timer"
	case LatchRise:
		return "latch-rise"
	case LatchFall:
		return "latch-fall"
	case Serial:
		return "serial"
	}
	return "unknown"
}

type Event struct {
	Kind Kind
	// Data is the byte shifted in by a Serial event.
	Data byte
	// Gen tags Timer events with the arming they belong to.
	Gen uint32
}

var ErrStopped = errors.New("tile: stopped")

type Options struct {
	Map    *layout.Map
	Bus    bam.Bus
	Timing bam.Timing
	// Timer defaults to a SoftTimer feeding this tile.
	Timer bam.Timer
	// Queue is the event queue depth.
	Queue int
}

type Tile struct {
	Store  *bam.Store
	Engine *bam.Engine
	Rx     *rx.Receiver

	soft    *SoftTimer
	events  chan Event
	done    chan struct{}
	stop    sync.Once
	enabled atomic.Bool

	ticks   atomic.Uint64
	masked  atomic.Uint64
	mu      sync.Mutex
	front   bam.Block
	frameID uint64
}

func New(o Options) *Tile {
	if o.Queue <= 0 {
		o.Queue = 1024
	}
	if o.Timing == (bam.Timing{}) {
		o.Timing = bam.DefaultTiming
	}
	t := &Tile{
		Store:  bam.NewStore(o.Map),
		events: make(chan Event, o.Queue),
		done:   make(chan struct{}),
	}
	if o.Timer == nil {
		t.soft = NewSoftTimer(func(gen uint32) {
			t.Post(Event{Kind: Timer, Gen: gen})
		})
		o.Timer = t.soft
	}
	t.Engine = bam.NewEngine(t.Store, o.Bus, o.Timer, o.Timing)
	t.Rx = rx.NewReceiver(frameSink{t}, t.Engine)
	return t
}

// Boot brings the tile up in firmware order: receiver, BAM engine,
// interrupts, step timer.
func (t *Tile) Boot() {
	t.Rx.Init()
	t.Engine.Init()
	t.enabled.Store(true)
	t.Engine.Start()
	log.Info().
		Dur("step0", t.Engine.Timing().Step0).
		Str("refresh", t.Engine.Timing().RefreshRate().String()).
		Msg("tile booted")
}

// Post raises an interrupt. It blocks while the queue is full. Events raised
// before Boot or after Stop are dropped.
func (t *Tile) Post(ev Event) {
	if !t.enabled.Load() {
		t.masked.Add(1)
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// Run dispatches events until ctx is done or Stop is called, then halts
// the step timer.
func (t *Tile) Run(ctx context.Context) error {
	defer func() {
		t.Stop()
		t.Engine.Reset()
		log.Info().Uint64("frames", t.Rx.Stats.Frames.Load()).Msg("tile stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrStopped
		case ev := <-t.events:
			t.dispatch(ev)
		}
		t.Step()
	}
}

// Step services every pending event and then runs one main-loop poll.
// Tests and paced links drive the tile with it instead of Run.
func (t *Tile) Step() {
	for {
		select {
		case ev := <-t.events:
			t.dispatch(ev)
		default:
			t.Rx.Poll()
			return
		}
	}
}

// Stop masks interrupts, ends Run and releases blocked posters.
func (t *Tile) Stop() {
	t.stop.Do(func() {
		t.enabled.Store(false)
		close(t.done)
	})
}

func (t *Tile) dispatch(ev Event) {
	switch ev.Kind {
	case Timer:
		if t.soft != nil && !t.soft.Current(ev.Gen) {
			return
		}
		t.ticks.Add(1)
		t.Engine.HandleTimer()
	case LatchRise:
		t.Rx.LatchRise()
	case LatchFall:
		t.Rx.LatchFall()
	case Serial:
		resets, resyncs := t.Rx.Stats.BufferResets.Load(), t.Rx.Stats.Resyncs.Load()
		t.Rx.Serial(ev.Data)
		if t.Rx.Stats.Resyncs.Load() != resyncs {
			log.Debug().Msg("bam cycle resynchronized")
		} else if t.Rx.Stats.BufferResets.Load() != resets {
			log.Debug().Int("counter", t.Rx.Counter()).Msg("receive buffer reset")
		}
	}
}

// Frame returns a copy of the front block as of the last swap and its
// frame number. Safe to call from any goroutine.
func (t *Tile) Frame() (bam.Block, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.front, t.frameID
}

type Stats struct {
	rx.Snapshot
	Ticks  uint64 `json:"ticks"`
	Masked uint64 `json:"masked"`
}

func (t *Tile) Stats() Stats {
	return Stats{
		Snapshot: t.Rx.Stats.Snapshot(),
		Ticks:    t.ticks.Load(),
		Masked:   t.masked.Load(),
	}
}

// frameSink hands frame bytes to the store and publishes committed frames.
type frameSink struct{ t *Tile }

func (f frameSink) Assemble(v byte, ch int) error {
	return f.t.Store.Assemble(v, ch)
}

func (f frameSink) Swap() {
	f.t.Store.Swap()
	f.t.mu.Lock()
	f.t.front = *f.t.Store.Front()
	f.t.frameID++
	id := f.t.frameID
	f.t.mu.Unlock()
	log.Debug().Uint64("frame", id).Stringer("front", f.t.Store.FrontBuffer()).Msg("frame swapped")
}
