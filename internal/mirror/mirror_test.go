package mirror

import (
	"bytes"
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/spi/spitest"
	"periph.io/x/devices/v3/nrzled"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/layout"
)

func block(t *testing.T, set map[int]byte) *bam.Block {
	t.Helper()
	s := bam.NewStore(nil)
	for ch, v := range set {
		require.NoError(t, s.Assemble(v, ch))
	}
	s.Swap()
	b := *s.Front()
	return &b
}

func TestStripFollowsSerpentine(t *testing.T) {
	l := layout.Panel
	b := block(t, map[int]byte{
		l.Channel(0, 0, layout.Red):   10,
		l.Channel(0, 1, layout.Green): 20,
		l.Channel(7, 1, layout.Blue):  30,
	})
	im := Strip(b, l, layout.Default)
	require.Equal(t, l.Count(), im.Bounds().Dx())
	assert.Equal(t, color.NRGBA{R: 10, A: 255}, im.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{G: 20, A: 255}, im.NRGBAAt(15, 0), "row 1 runs backwards")
	assert.Equal(t, color.NRGBA{B: 30, A: 255}, im.NRGBAAt(8, 0))
}

type frames struct {
	b  bam.Block
	id uint64
}

func (f *frames) Frame() (bam.Block, uint64) { return f.b, f.id }

func TestMirrorDrawsNewFramesOnly(t *testing.T) {
	var buf bytes.Buffer
	d, err := nrzled.NewSPI(spitest.NewRecordRaw(&buf), &nrzled.Opts{
		NumPixels: layout.Panel.Count(),
		Channels:  3,
		Freq:      StripFreq,
	})
	require.NoError(t, err)
	mi := New(d, layout.Panel, nil)
	assert.Equal(t, "nrzled{recordraw}", mi.String())

	src := &frames{b: *block(t, map[int]byte{0: 0xff}), id: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mi.Run(ctx, src, time.Millisecond), context.DeadlineExceeded)

	assert.Equal(t, uint64(1), mi.Draws())
	// Three SPI bits per strip bit.
	assert.GreaterOrEqual(t, buf.Len(), layout.Panel.Count()*3*3)
}
