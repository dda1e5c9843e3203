package tile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/driver/fake"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/pattern"
)

func newTestTile() (*Tile, *fake.Bus, *fake.Timer) {
	bus, tm := &fake.Bus{}, &fake.Timer{}
	tl := New(Options{Bus: bus, Timer: tm})
	tl.Engine.Delay = nil
	return tl, bus, tm
}

func send(tl *Tile, v byte) {
	tl.Post(Event{Kind: Serial, Data: v})
	tl.Post(Event{Kind: LatchRise})
	tl.Step()
	tl.Post(Event{Kind: LatchFall})
}

func TestInterruptsMaskedUntilBoot(t *testing.T) {
	tl, bus, tm := newTestTile()
	tl.Post(Event{Kind: Timer})
	assert.Equal(t, uint64(1), tl.Stats().Masked)
	assert.Empty(t, bus.Ops)

	tl.Boot()
	assert.True(t, tm.Running)
	assert.Equal(t, fake.Op{Line: fake.Blank, Value: 0}, bus.Ops[len(bus.Ops)-1])

	tl.Post(Event{Kind: Timer})
	tl.Step()
	assert.Equal(t, 1, tl.Engine.Step())
	assert.Equal(t, uint64(1), tl.Stats().Ticks)
}

func TestFrameThroughEvents(t *testing.T) {
	tl, _, _ := newTestTile()
	tl.Boot()

	var frame pattern.Frame
	pattern.Gradient(&frame, 1)
	for _, v := range frame {
		send(tl, v)
	}
	_, id := tl.Frame()
	assert.Zero(t, id, "not committed yet")

	send(tl, 0)
	tl.Step()
	block, id := tl.Frame()
	require.Equal(t, uint64(1), id)
	for ch, v := range frame {
		assert.Equal(t, v, bam.Decode(&block, layout.Default, ch), "channel %d", ch)
	}
	s := tl.Stats()
	assert.Equal(t, uint64(1), s.Frames)
	assert.Equal(t, uint64(layout.Channels), s.Bytes)
}

func TestResyncRewindsEngine(t *testing.T) {
	tl, _, tm := newTestTile()
	tl.Boot()
	for i := 0; i < 3; i++ {
		tl.Post(Event{Kind: Timer})
	}
	tl.Step()
	require.Equal(t, 3, tl.Engine.Step())

	tl.Post(Event{Kind: LatchRise})
	tl.Post(Event{Kind: Serial})
	tl.Post(Event{Kind: Serial})
	tl.Post(Event{Kind: LatchFall})
	tl.Step()

	assert.Zero(t, tl.Engine.Step())
	assert.True(t, tm.Running)
	assert.Equal(t, bam.DefaultTiming.Step0, tm.Loaded)
	assert.Equal(t, uint64(1), tl.Stats().Resyncs)
	assert.Equal(t, uint64(1), tl.Stats().BufferResets)
}

func TestSoftTimerIgnoresStaleArming(t *testing.T) {
	fired := make(chan uint32, 4)
	st := NewSoftTimer(func(gen uint32) { fired <- gen })
	st.Load(time.Millisecond)
	st.Start()

	var gen uint32
	select {
	case gen = <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.True(t, st.Current(gen))

	st.Stop()
	assert.False(t, st.Current(gen))
	st.Start()
	assert.False(t, st.Current(gen), "rearming starts a new generation")
	st.Stop()
}

func TestRunStepsWithSoftTimer(t *testing.T) {
	timing := bam.DefaultTiming
	timing.Step0 = 100 * time.Microsecond
	tl := New(Options{Bus: &fake.Bus{}, Timing: timing})
	tl.Engine.Delay = nil
	tl.Boot()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tl.Run(ctx) }()

	require.Eventually(t, func() bool {
		return tl.Stats().Ticks >= 2*bam.Steps
	}, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	tl.Post(Event{Kind: Serial})
	assert.NotZero(t, tl.Stats().Masked, "stopped tile drops events")
}

func TestLatchWatcherPostsEdges(t *testing.T) {
	tl, _, _ := newTestTile()
	tl.Boot()

	pin := &gpiotest.Pin{N: "LATCH_IN", Num: 5, EdgesChan: make(chan gpio.Level)}
	w, err := WatchLatch(pin, tl)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullDown, pin.Pull())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Poll = 10 * time.Millisecond
	go w.Run(ctx)

	tl.Post(Event{Kind: Serial, Data: 0x5a})
	pin.EdgesChan <- gpio.High
	require.Eventually(t, func() bool {
		tl.Step()
		return tl.Rx.Latched()
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, tl.Rx.Counter())

	pin.EdgesChan <- gpio.Low
	require.Eventually(t, func() bool {
		tl.Step()
		return !tl.Rx.Latched()
	}, time.Second, time.Millisecond)
}
