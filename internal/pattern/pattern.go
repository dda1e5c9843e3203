package pattern

import (
	"fmt"

	"github.com/coreman2200/bamtile/internal/layout"
)

// Frame is one full upstream frame: a byte per channel in scan order.
type Frame [layout.Channels]byte

type Kind string

const (
	None       Kind = ""
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
	Ramp       Kind = "ramp"
	Solid      Kind = "solid"
)

// Kinds lists the generators accepted by Parse.
var Kinds = []Kind{IndexSweep, RGBTest, Ramp, Solid}

func Parse(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return None, fmt.Errorf("pattern: unknown kind %q", s)
}

type Plan struct {
	Kind Kind
	// Level is the intensity used by IndexSweep, RGBTest and Solid.
	Level byte
	// Loop restarts finite plans instead of ending them.
	Loop bool
	Post Post
}

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner {
	if plan.Level == 0 {
		plan.Level = 255
	}
	return &Runner{plan: plan}
}

func (r *Runner) Kind() Kind { return r.plan.Kind }

// SetLevel changes the intensity from the next frame on.
func (r *Runner) SetLevel(l byte) { r.plan.Level = l }

// Step fills f with the next frame; returns false when complete.
func (r *Runner) Step(f *Frame) bool {
	*f = Frame{}
	l := layout.Panel
	switch r.plan.Kind {
	case IndexSweep:
		n := l.Count()
		if r.step >= n {
			if !r.plan.Loop {
				return false
			}
			r.step = 0
		}
		x, y := r.step%l.Dim.X, r.step/l.Dim.X
		for c := layout.Red; c <= layout.Blue; c++ {
			f[l.Channel(x, y, c)] = r.plan.Level
		}
	case RGBTest:
		c := layout.Color(r.step % layout.Colors)
		for i := 0; i < l.Count(); i++ {
			f[i*layout.Colors+int(c)] = r.plan.Level
		}
	case Ramp:
		Gradient(f, r.step)
	case Solid:
		for i := range f {
			f[i] = r.plan.Level
		}
	default:
		return false
	}
	r.plan.Post.Apply(f)
	r.step++
	return true
}

// Gradient paints red along x, green along y and a blue ramp moving with
// phase. Every channel gets a distinct-ish value, which suits round trips.
func Gradient(f *Frame, phase int) {
	l := layout.Panel
	for y := 0; y < l.Dim.Y; y++ {
		for x := 0; x < l.Dim.X; x++ {
			f[l.Channel(x, y, layout.Red)] = byte(x*255/(l.Dim.X-1)) ^ byte(y)
			f[l.Channel(x, y, layout.Green)] = byte(y*255/(l.Dim.Y-1)) ^ byte(x<<3)
			f[l.Channel(x, y, layout.Blue)] = byte((x+y)*16 + phase*4)
		}
	}
}
