//go:build linux

package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

const consumer = "pressure-sensor"

// RealOutput is an output line on the Linux GPIO character device.
type RealOutput struct {
	line *gpiocdev.Line
}

// RealData is the bidirectional data line on the Linux GPIO character device.
// Falling edges arrive from the gpiocdev watcher goroutine, possibly after
// the transfer that caused them, so each carries its kernel timestamp.
type RealData struct {
	mu    sync.Mutex
	line  *gpiocdev.Line
	dir   Direction
	edges *edgeWaiter
}

// OpenReal requests the clock and data lines on the named chip.
// The clock starts low (ADC powered) and the data line starts as an input
// with falling-edge detection.
func OpenReal(chipName string, pinClock, pinData int) (*RealOutput, *RealData, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, nil, fmt.Errorf("open gpio chip: %w", err)
	}
	// Requested lines hold their own file descriptors.
	defer chip.Close()

	clkLine, err := chip.RequestLine(pinClock, gpiocdev.AsOutput(Low))
	if err != nil {
		return nil, nil, fmt.Errorf("request clock pin %d: %w", pinClock, err)
	}

	data := &RealData{
		dir:   Input,
		edges: newEdgeWaiter(),
	}
	dataLine, err := chip.RequestLine(pinData,
		gpiocdev.AsInput,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithMonotonicEventClock,
		gpiocdev.WithEventHandler(data.handleEvent))
	if err != nil {
		clkLine.Close()
		return nil, nil, fmt.Errorf("request data pin %d: %w", pinData, err)
	}
	data.line = dataLine

	return &RealOutput{line: clkLine}, data, nil
}

// SetValue drives the clock line.
func (o *RealOutput) SetValue(v int) error {
	if o.line == nil {
		return ErrClosed
	}
	return o.line.SetValue(v)
}

// Close drives the clock low and releases the line.
func (o *RealOutput) Close() error {
	if o.line == nil {
		return nil
	}
	var errs []error
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure clock pin: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close clock pin: %w", err))
	}
	o.line = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (d *RealData) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	d.edges.record(evt.Timestamp)
}

// AsOutput switches the data line to an output driving v.
func (d *RealData) AsOutput(v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return ErrClosed
	}
	if err := d.line.Reconfigure(gpiocdev.WithoutEdges, gpiocdev.AsOutput(v)); err != nil {
		return fmt.Errorf("reconfigure data pin as output: %w", err)
	}
	d.dir = Output
	return nil
}

// AsInput switches the data line back to an input with falling-edge detection.
func (d *RealData) AsInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return ErrClosed
	}
	if err := d.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithFallingEdge, gpiocdev.WithMonotonicEventClock); err != nil {
		return fmt.Errorf("reconfigure data pin as input: %w", err)
	}
	d.dir = Input
	return nil
}

// Direction reports the current mode.
func (d *RealData) Direction() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir
}

// SetValue drives the data line.
func (d *RealData) SetValue(v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return ErrClosed
	}
	if d.dir != Output {
		return ErrNotOutput
	}
	return d.line.SetValue(v)
}

// Value samples the data line.
func (d *RealData) Value() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return 0, ErrClosed
	}
	if d.dir != Input {
		return 0, ErrNotInput
	}
	return d.line.Value()
}

// WaitFallingEdge waits for a falling edge that occurs after the call.
// Edges stamped earlier, such as those left over from bit-banged transfers,
// are ignored however late the watcher delivers them.
func (d *RealData) WaitFallingEdge(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.line == nil {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.dir != Input {
		d.mu.Unlock()
		return ErrNotInput
	}
	d.mu.Unlock()

	since, err := monotonicNow()
	if err != nil {
		return err
	}
	return d.edges.wait(ctx, since, timeout)
}

// monotonicNow reads CLOCK_MONOTONIC, the clock edge events are stamped with.
func monotonicNow() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("read monotonic clock: %w", err)
	}
	return time.Duration(ts.Nano()), nil
}

// Close reconfigures the data line as an input with pull-down and releases it.
func (d *RealData) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return nil
	}
	var errs []error
	if err := d.line.Reconfigure(gpiocdev.WithoutEdges, gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure data pin: %w", err))
	}
	if err := d.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close data pin: %w", err))
	}
	d.line = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
