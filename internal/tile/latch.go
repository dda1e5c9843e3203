package tile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
)

// LatchWatcher turns edges on the external latch input into LatchRise and
// LatchFall events.
type LatchWatcher struct {
	pin  gpio.PinIn
	tile *Tile
	last gpio.Level
	// Poll bounds each wait so cancellation is noticed.
	Poll time.Duration
}

// WatchLatch configures pin as a pulled-down input interrupting on both
// edges.
func WatchLatch(pin gpio.PinIn, t *Tile) (*LatchWatcher, error) {
	if err := pin.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("tile: latch input %s: %w", pin, err)
	}
	return &LatchWatcher{pin: pin, tile: t, last: pin.Read(), Poll: 100 * time.Millisecond}, nil
}

// Run forwards edges until ctx is done.
func (w *LatchWatcher) Run(ctx context.Context) error {
	log.Debug().Str("pin", w.pin.String()).Msg("watching latch")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.pin.WaitForEdge(w.Poll) {
			continue
		}
		l := w.pin.Read()
		if l == w.last {
			// Missed the opposite edge; the level is all that counts.
			continue
		}
		w.last = l
		if l == gpio.High {
			w.tile.Post(Event{Kind: LatchRise})
		} else {
			w.tile.Post(Event{Kind: LatchFall})
		}
	}
}
