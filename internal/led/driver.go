// Package led implements the output bus to the TLC59281 driver chains:
// a periph GPIO bit-bang bus for real hardware and a chain simulator.
package led

import "io"

// Driver is an output bus that holds resources.
type Driver interface {
	Data(b byte)
	Clock(l Level)
	Latch(l Level)
	Blank(l Level)
	io.Closer
}
