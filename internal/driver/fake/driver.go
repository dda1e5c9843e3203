package fake

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Line names one wire of the driver bus.
type Line string

const (
	Data  Line = "data"
	Clock Line = "clock"
	Latch Line = "latch"
	Blank Line = "blank"
)

// Op is one recorded bus write. Value is the data byte or 0/1 for levels.
type Op struct {
	Line  Line
	Value byte
}

func (o Op) String() string {
	return fmt.Sprintf("%s=%d", o.Line, o.Value)
}

// Bus records every write, useful for headless tests.
type Bus struct {
	Ops []Op
}

func level(l gpio.Level) byte {
	if l {
		return 1
	}
	return 0
}

func (b *Bus) Data(v byte)        { b.Ops = append(b.Ops, Op{Data, v}) }
func (b *Bus) Clock(l gpio.Level) { b.Ops = append(b.Ops, Op{Clock, level(l)}) }
func (b *Bus) Latch(l gpio.Level) { b.Ops = append(b.Ops, Op{Latch, level(l)}) }
func (b *Bus) Blank(l gpio.Level) { b.Ops = append(b.Ops, Op{Blank, level(l)}) }
func (b *Bus) Close() error       { return nil }

func (b *Bus) Reset() { b.Ops = b.Ops[:0] }

// Rising counts low to high transitions on line.
func (b *Bus) Rising(line Line) int {
	n := 0
	var last byte
	for _, op := range b.Ops {
		if op.Line != line {
			continue
		}
		if op.Value == 1 && last == 0 {
			n++
		}
		last = op.Value
	}
	return n
}

// Shifted returns the data byte present at every clock rising edge.
func (b *Bus) Shifted() []byte {
	var out []byte
	var data, clk byte
	for _, op := range b.Ops {
		switch op.Line {
		case Data:
			data = op.Value
		case Clock:
			if op.Value == 1 && clk == 0 {
				out = append(out, data)
			}
			clk = op.Value
		}
	}
	return out
}

func (b *Bus) String() string {
	s := make([]string, len(b.Ops))
	for i, op := range b.Ops {
		s[i] = op.String()
	}
	return strings.Join(s, " ")
}

// Timer is a manual step timer. Tests call the engine's HandleTimer
// themselves when a period would have elapsed.
type Timer struct {
	Loaded  time.Duration
	Running bool
	Loads   []time.Duration
	Starts  int
	Stops   int
}

func (t *Timer) Stop()                { t.Running = false; t.Stops++ }
func (t *Timer) Load(d time.Duration) { t.Loaded = d; t.Loads = append(t.Loads, d) }
func (t *Timer) Start()               { t.Running = true; t.Starts++ }
