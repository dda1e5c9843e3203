package link

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/coreman2200/bamtile/internal/tile"
)

var ErrLatchPin = errors.New("link: latch pin not found")

// Loopback feeds a tile in the same process.
type Loopback struct {
	Tile *tile.Tile
	// Latch, when set, is driven instead of posting latch events. Wire it to
	// the tile's latch input to exercise the edge path.
	Latch gpio.PinOut
	// Settle runs after each latch edge, typically Tile.Step when nothing
	// else drives the tile.
	Settle func()
}

func (l *Loopback) Shift(b byte) error {
	l.Tile.Post(tile.Event{Kind: tile.Serial, Data: b})
	return nil
}

func (l *Loopback) SetLatch(lv gpio.Level) error {
	if l.Latch != nil {
		if err := l.Latch.Out(lv); err != nil {
			return err
		}
	} else if lv == gpio.High {
		l.Tile.Post(tile.Event{Kind: tile.LatchRise})
	} else {
		l.Tile.Post(tile.Event{Kind: tile.LatchFall})
	}
	if l.Settle != nil {
		l.Settle()
	}
	return nil
}

// SPIPort drives a real tile: bytes over an SPI master, latch over a GPIO.
type SPIPort struct {
	port  spi.PortCloser
	conn  spi.Conn
	latch gpio.PinOut
	buf   [1]byte
}

// NewSPIPort connects p in mode 0 at f and parks the latch low.
func NewSPIPort(p spi.PortCloser, f physic.Frequency, latch gpio.PinOut) (*SPIPort, error) {
	c, err := p.Connect(f, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("link: spi connect: %w", err)
	}
	if err := latch.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("link: latch %s: %w", latch, err)
	}
	return &SPIPort{port: p, conn: c, latch: latch}, nil
}

// OpenSPI opens the named SPI port and latch pin from the periph registries.
// host.Init must have run.
func OpenSPI(port string, f physic.Frequency, latch string) (*SPIPort, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("link: open spi %q: %w", port, err)
	}
	pin := gpioreg.ByName(latch)
	if pin == nil {
		p.Close()
		return nil, fmt.Errorf("%w: %q", ErrLatchPin, latch)
	}
	s, err := NewSPIPort(p, f, pin)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *SPIPort) Shift(b byte) error {
	s.buf[0] = b
	return s.conn.Tx(s.buf[:], nil)
}

func (s *SPIPort) SetLatch(l gpio.Level) error {
	return s.latch.Out(l)
}

func (s *SPIPort) String() string {
	return fmt.Sprintf("%s+%s", s.conn, s.latch)
}

// Close releases the latch low and closes the SPI port.
func (s *SPIPort) Close() error {
	err := s.latch.Out(gpio.Low)
	if cerr := s.port.Close(); err == nil {
		err = cerr
	}
	return err
}
