package link

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/bamtile/internal/pattern"
)

// Command changes what a Feeder does next.
type Command struct {
	// Pattern switches the generator when set.
	Pattern pattern.Kind
	// Source returns to the feeder's Source after a pattern switch.
	Source      bool
	ResetBuffer bool
	Resync      bool
}

// Source produces frames; false means it has nothing more to send.
type Source interface {
	Step(f *pattern.Frame) bool
}

// Feeder streams generated frames through a Sender at a fixed rate and
// interleaves commands between frames.
type Feeder struct {
	sender *Sender
	plan   pattern.Plan
	period time.Duration
	cmds   chan Command

	// Source, when set before Run, replaces the plan's generator until a
	// pattern command arrives.
	Source Source
}

func NewFeeder(s *Sender, plan pattern.Plan, period time.Duration) *Feeder {
	return &Feeder{sender: s, plan: plan, period: period, cmds: make(chan Command, 8)}
}

// Do queues c for the running feeder.
func (f *Feeder) Do(ctx context.Context, c Command) error {
	select {
	case f.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run resyncs the tile, then sends a frame every period until ctx ends.
// A finished non-looping plan leaves the last frame up and waits for
// commands.
func (f *Feeder) Run(ctx context.Context) error {
	if err := f.sender.Resync(); err != nil {
		return err
	}
	var r Source = pattern.NewRunner(f.plan)
	if f.Source != nil {
		r = f.Source
	}
	tick := time.NewTicker(f.period)
	defer tick.Stop()
	var frame pattern.Frame
	idle := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-f.cmds:
			if c.Pattern != pattern.None {
				f.plan.Kind = c.Pattern
				r = pattern.NewRunner(f.plan)
				idle = false
				log.Info().Str("pattern", string(c.Pattern)).Msg("pattern switched")
			} else if c.Source && f.Source != nil {
				r = f.Source
				idle = false
				log.Info().Msg("source restored")
			}
			if c.ResetBuffer {
				if err := f.sender.ResetBuffer(); err != nil {
					return err
				}
			}
			if c.Resync {
				if err := f.sender.Resync(); err != nil {
					return err
				}
			}
		case <-tick.C:
			if idle {
				continue
			}
			if !r.Step(&frame) {
				idle = true
				log.Info().Uint64("frames", f.sender.Frames()).Msg("feed done")
				continue
			}
			if err := f.sender.SendFrame(ctx, &frame); err != nil {
				return err
			}
		}
	}
}
