package layout

import (
	"errors"
	"fmt"
)

// Panel geometry. The sender scans row-major, RGB interleaved per pixel.
const (
	Width    = 8
	Height   = 8
	Colors   = 3
	Channels = Width * Height * Colors

	// Chains is the number of parallel shift-register strings sharing one clock.
	Chains = 6
	// ChainLength is the number of driver outputs on one string (two 16-output chips).
	ChainLength = 32
)

type Color int

const (
	Red Color = iota
	Green
	Blue
)

func (c Color) String() string {
	switch c {
	case Red:
		return "R"
	case Green:
		return "G"
	case Blue:
		return "B"
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

type Dim struct{ X, Y int }

type Serpentine struct {
	XFlipEveryRow bool
}

// Layout describes how the LEDs of one tile hang off the driver chains.
// The rows are split into bands of RowsPerBand; each band owns one chain
// per color.
type Layout struct {
	Dim         Dim
	Order       Serpentine
	RowsPerBand int
}

// Panel is the wiring of the production tile.
var Panel = Layout{
	Dim:         Dim{X: Width, Y: Height},
	Order:       Serpentine{XFlipEveryRow: true},
	RowsPerBand: 4,
}

var ErrWiring = errors.New("layout: wiring does not cover the chains")

// Index maps x,y -> pixel index in scan order.
func (l Layout) Index(x, y int) int {
	return y*l.Dim.X + x
}

// Channel maps x,y,color -> logical channel index in scan order.
func (l Layout) Channel(x, y int, c Color) int {
	return l.Index(x, y)*Colors + int(c)
}

// Locate is the inverse of Channel.
func (l Layout) Locate(ch int) (x, y int, c Color) {
	px := ch / Colors
	return px % l.Dim.X, px / l.Dim.X, Color(ch % Colors)
}

func (l Layout) Count() int {
	return l.Dim.X * l.Dim.Y
}

// Output returns the chain and the driver output (0 nearest the data input
// is the last bit shifted) that light channel x,y,c.
func (l Layout) Output(x, y int, c Color) (chain, out int) {
	band := y / l.RowsPerBand
	row := y % l.RowsPerBand
	xx := x
	if l.Order.XFlipEveryRow && row%2 == 1 {
		xx = l.Dim.X - 1 - x
	}
	return band*Colors + int(c), row*l.Dim.X + xx
}

// Map is the flattened wiring: for every channel the byte offset inside a
// plane and the chain bit inside that byte.
type Map struct {
	BytePos [Channels]uint8
	BitMask [Channels]uint8
}

// Build flattens the layout into lookup tables. Every (byte, chain) slot must
// be used by exactly one channel.
func (l Layout) Build() (*Map, error) {
	if l.Count()*Colors != Channels || l.RowsPerBand <= 0 {
		return nil, fmt.Errorf("%w: %dx%d pixels, %d rows per band", ErrWiring, l.Dim.X, l.Dim.Y, l.RowsPerBand)
	}
	m := &Map{}
	var used [ChainLength]uint8
	for ch := 0; ch < Channels; ch++ {
		x, y, c := l.Locate(ch)
		chain, out := l.Output(x, y, c)
		if chain >= Chains || out >= ChainLength {
			return nil, fmt.Errorf("%w: channel %d lands on chain %d output %d", ErrWiring, ch, chain, out)
		}
		// The first byte clocked out travels to the far end of the string.
		pos := ChainLength - 1 - out
		mask := uint8(1) << chain
		if used[pos]&mask != 0 {
			return nil, fmt.Errorf("%w: chain %d output %d wired twice", ErrWiring, chain, out)
		}
		used[pos] |= mask
		m.BytePos[ch] = uint8(pos)
		m.BitMask[ch] = mask
	}
	return m, nil
}

func MustBuild(l Layout) *Map {
	m, err := l.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// Default is the channel map of the production panel.
var Default = MustBuild(Panel)
