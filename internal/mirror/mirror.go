// Package mirror repeats the tile's committed frames on a bench display: a
// WS2812 strip driven over SPI, or the console when no port is available.
package mirror

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/extra/devices/screen"

	"github.com/coreman2200/bamtile/internal/bam"
	"github.com/coreman2200/bamtile/internal/layout"
)

// StripFreq is the SPI clock that yields WS2812 bit timing with nrzled.
const StripFreq = 2500 * physic.KiloHertz

// Source is anything that publishes committed frames.
type Source interface {
	Frame() (bam.Block, uint64)
}

type Mirror struct {
	drawer display.Drawer
	layout layout.Layout
	m      *layout.Map
	// Hardware is false when frames are printed at the console.
	Hardware bool

	last  uint64
	draws uint64
}

func New(d display.Drawer, l layout.Layout, m *layout.Map) *Mirror {
	if m == nil {
		m = layout.Default
	}
	return &Mirror{drawer: d, layout: l, m: m}
}

// Open drives a strip on the named SPI port ("" for the first one). When
// the port cannot be opened the frames are printed at the console instead.
// host.Init must have run.
func Open(port string, l layout.Layout, m *layout.Map) (*Mirror, error) {
	p, err := spireg.Open(port)
	if err != nil {
		log.Warn().Err(err).Str("port", port).Msg("no SPI port for the mirror, printing at the console")
		return New(screen.New(l.Count()), l, m), nil
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: l.Count(),
		Channels:  3,
		Freq:      StripFreq,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("mirror: nrzled on %q: %w", port, err)
	}
	mi := New(d, l, m)
	mi.Hardware = true
	return mi, nil
}

// Strip lays a block out as a 1-pixel-high image in strip order. The bench
// strip snakes like the panel rows.
func Strip(b *bam.Block, l layout.Layout, m *layout.Map) *image.NRGBA {
	src := bam.Image(b, l, m)
	im := image.NewNRGBA(image.Rect(0, 0, l.Count(), 1))
	for y := 0; y < l.Dim.Y; y++ {
		for x := 0; x < l.Dim.X; x++ {
			i := y * l.Dim.X
			if l.Order.XFlipEveryRow && y%2 == 1 {
				i += l.Dim.X - 1 - x
			} else {
				i += x
			}
			im.SetNRGBA(i, 0, src.NRGBAAt(x, y))
		}
	}
	return im
}

func (mi *Mirror) Draw(b *bam.Block) error {
	mi.draws++
	return mi.drawer.Draw(mi.drawer.Bounds(), Strip(b, mi.layout, mi.m), image.Point{})
}

// Run draws every new frame of src, checking every period.
func (mi *Mirror) Run(ctx context.Context, src Source, period time.Duration) error {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			b, id := src.Frame()
			if id == mi.last {
				continue
			}
			mi.last = id
			if err := mi.Draw(&b); err != nil {
				return fmt.Errorf("mirror: draw frame %d: %w", id, err)
			}
		}
	}
}

func (mi *Mirror) Draws() uint64 { return mi.draws }

func (mi *Mirror) String() string { return mi.drawer.String() }

// Halt blanks the display.
func (mi *Mirror) Halt() error {
	return mi.drawer.Halt()
}
