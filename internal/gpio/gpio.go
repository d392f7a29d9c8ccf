// Package gpio provides the two GPIO lines a CS1237 ADC is wired to: a clock
// output and a bidirectional data line that doubles as the data-ready signal.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"errors"
	"time"
)

// Logical line levels.
const (
	Low  = 0
	High = 1
)

// Default wiring (BCM numbering). The CS1237 sits on the SPI0 pins so the
// board can be reworked for a hardware bus without rewiring.
const (
	DefaultChip     = "gpiochip0"
	DefaultPinClock = 11 // SCLK
	DefaultPinData  = 9  // DOUT/DRDY
)

// Direction is the current mode of a bidirectional line.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

var (
	// ErrNotOutput is returned when driving a line that is in input mode.
	ErrNotOutput = errors.New("gpio: line is not an output")
	// ErrNotInput is returned when sampling or waiting on a line in output mode.
	ErrNotInput = errors.New("gpio: line is not an input")
	// ErrEdgeTimeout is returned when no falling edge arrives within the timeout.
	ErrEdgeTimeout = errors.New("gpio: timed out waiting for falling edge")
	// ErrClosed is returned by any operation on a released line.
	ErrClosed = errors.New("gpio: line closed")
)

// OutputLine drives a single output, e.g. the ADC clock.
type OutputLine interface {
	// SetValue drives the line to Low or High.
	SetValue(v int) error

	// Close releases the line.
	Close() error
}

// DataLine is one physical line that is either an input with falling-edge
// detection or an output. There is only ever one live view of the line:
// AsOutput and AsInput switch the mode, and operations that do not belong
// to the current mode fail with ErrNotOutput or ErrNotInput.
type DataLine interface {
	// AsOutput switches the line to output mode, driving it to v.
	AsOutput(v int) error

	// AsInput switches the line to input mode with falling-edge detection.
	AsInput() error

	// Direction reports the current mode.
	Direction() Direction

	// SetValue drives the line. Output mode only.
	SetValue(v int) error

	// Value samples the line. Input mode only.
	Value() (int, error)

	// WaitFallingEdge blocks until a falling edge is observed after the call
	// begins, the timeout elapses (ErrEdgeTimeout) or ctx is done.
	// Input mode only.
	WaitFallingEdge(ctx context.Context, timeout time.Duration) error

	// Close releases the line.
	Close() error
}
