package bam

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/coreman2200/bamtile/internal/layout"
)

const (
	// Steps is the number of bit planes, one per bit of intensity.
	Steps = 8
	// PlaneSize is one byte per driver output position; bit n of a byte
	// feeds chain n.
	PlaneSize = layout.ChainLength
	// BlockSize holds every plane of one frame.
	BlockSize = Steps * PlaneSize
)

// ErrChannelRange is returned by Assemble for channels past the panel.
var ErrChannelRange = errors.New("bam: channel out of range")

// Block is one frame worth of BAM planes. Plane p starts at p*PlaneSize and
// is shown for a time proportional to 1<<p.
type Block [BlockSize]byte

// Plane returns the bytes of plane p.
func (b *Block) Plane(p int) []byte {
	return b[p*PlaneSize : (p+1)*PlaneSize]
}

// Buffer names one of the two blocks of a Store.
type Buffer uint8

const (
	BufferA Buffer = iota
	BufferB
)

func (b Buffer) String() string {
	if b == BufferA {
		return "A"
	}
	return "B"
}

// Store is the double buffer. The engine reads the front block, the
// assembler writes the back block, and Swap exchanges the roles.
type Store struct {
	blocks [2]Block
	// front counts swaps; the low bit selects the front block.
	front atomic.Uint32
	m     *layout.Map
}

// NewStore returns a zeroed store with A in front.
func NewStore(m *layout.Map) *Store {
	if m == nil {
		m = layout.Default
	}
	return &Store{m: m}
}

// FrontBuffer reports which block is being transmitted.
func (s *Store) FrontBuffer() Buffer {
	return Buffer(s.front.Load() & 1)
}

func (s *Store) Front() *Block {
	return &s.blocks[s.front.Load()&1]
}

func (s *Store) Back() *Block {
	return &s.blocks[(s.front.Load()+1)&1]
}

// Swap exchanges front and back in one atomic step. No data moves.
func (s *Store) Swap() {
	s.front.Add(1)
}

// Clear zeroes both blocks and puts A in front.
func (s *Store) Clear() {
	s.blocks[0] = Block{}
	s.blocks[1] = Block{}
	s.front.Store(0)
}

// Map returns the channel map the store assembles with.
func (s *Store) Map() *layout.Map {
	return s.m
}

// Assemble spreads the 8 bits of value across the planes of the back block
// at the slot wired to channel. Bit p lands in plane p.
func (s *Store) Assemble(value byte, channel int) error {
	if channel < 0 || channel >= layout.Channels {
		return fmt.Errorf("%w: %d", ErrChannelRange, channel)
	}
	assemble(s.Back(), s.m, value, channel)
	return nil
}

func assemble(b *Block, m *layout.Map, value byte, channel int) {
	pos := int(m.BytePos[channel])
	mask := m.BitMask[channel]
	for p := 0; p < Steps; p++ {
		if value&(1<<p) != 0 {
			b[pos] |= mask
		} else {
			b[pos] &^= mask
		}
		pos += PlaneSize
	}
}

// Decode reads channel's value back out of a block.
func Decode(b *Block, m *layout.Map, channel int) byte {
	pos := int(m.BytePos[channel])
	mask := m.BitMask[channel]
	var v byte
	for p := 0; p < Steps; p++ {
		if b[pos+p*PlaneSize]&mask != 0 {
			v |= 1 << p
		}
	}
	return v
}

// Image decodes a whole block into an image in scan order.
func Image(b *Block, l layout.Layout, m *layout.Map) *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, l.Dim.X, l.Dim.Y))
	for y := 0; y < l.Dim.Y; y++ {
		for x := 0; x < l.Dim.X; x++ {
			im.SetNRGBA(x, y, color.NRGBA{
				R: Decode(b, m, l.Channel(x, y, layout.Red)),
				G: Decode(b, m, l.Channel(x, y, layout.Green)),
				B: Decode(b, m, l.Channel(x, y, layout.Blue)),
				A: 255,
			})
		}
	}
	return im
}
