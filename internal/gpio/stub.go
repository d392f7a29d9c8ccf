//go:build !linux

package gpio

import (
	"context"
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// RealData is not available on non-Linux platforms.
type RealData struct{}

// OpenReal returns an error on non-Linux platforms.
func OpenReal(chipName string, pinClock, pinData int) (*RealOutput, *RealData, error) {
	return nil, nil, errUnsupported
}

func (o *RealOutput) SetValue(v int) error { return errUnsupported }
func (o *RealOutput) Close() error         { return nil }

func (d *RealData) AsOutput(v int) error { return errUnsupported }
func (d *RealData) AsInput() error       { return errUnsupported }
func (d *RealData) Direction() Direction { return Input }
func (d *RealData) SetValue(v int) error { return errUnsupported }
func (d *RealData) Value() (int, error)  { return 0, errUnsupported }
func (d *RealData) Close() error         { return nil }

func (d *RealData) WaitFallingEdge(ctx context.Context, timeout time.Duration) error {
	return errUnsupported
}
