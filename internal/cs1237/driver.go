package cs1237

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/openpsg/pressure-sensor/internal/gpio"
)

// Pins are the two lines the chip is wired to.
type Pins struct {
	Clock gpio.OutputLine
	Data  gpio.DataLine
}

// Bus transfers bytes in from the chip once it has been configured.
type Bus interface {
	// Transfer fills p with bytes clocked in MSB first.
	Transfer(p []byte) error
}

// Driver reads conversions from a configured CS1237.
type Driver struct {
	pins   Pins
	bus    Bus
	cfg    Config
	timing Timing
	delay  func(time.Duration)
	sleep  func(time.Duration)
}

// Option customises a Driver.
type Option func(*Driver)

// WithTiming replaces the default timing bounds.
func WithTiming(t Timing) Option {
	return func(d *Driver) { d.timing = t }
}

// WithBus replaces the bit-banged bus used by Read.
func WithBus(b Bus) Option {
	return func(d *Driver) { d.bus = b }
}

// WithDelay replaces both the clock spin-wait and the power-down sleep.
func WithDelay(fn func(time.Duration)) Option {
	return func(d *Driver) {
		d.delay = fn
		d.sleep = fn
	}
}

// Configure powers the chip through an off/on cycle, writes cfg with the
// write-configuration command and returns a driver ready to Read.
// The handshake is not retried; construct a new driver to try again.
func Configure(ctx context.Context, pins Pins, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		pins:   pins,
		cfg:    cfg,
		timing: DefaultTiming(),
		delay:  spin,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.handshake(ctx); err != nil {
		return nil, err
	}

	if d.bus == nil {
		d.bus = &bitBus{clock: pins.Clock, data: pins.Data, halfPeriod: d.timing.HalfPeriod, delay: d.delay}
	}
	log.Printf("cs1237: configured %s", cfg)
	return d, nil
}

func (d *Driver) handshake(ctx context.Context) error {
	clk, data := d.pins.Clock, d.pins.Data

	log.Printf("cs1237: resetting")

	// Holding the clock high powers the chip off, taking it low powers it on.
	if err := clk.SetValue(gpio.High); err != nil {
		return protocolErr("power off", err)
	}
	d.sleep(d.timing.PowerDown)
	if err := clk.SetValue(gpio.Low); err != nil {
		return protocolErr("power on", err)
	}

	if err := d.waitReady(ctx, d.timing.ReadyTimeout); err != nil {
		return fmt.Errorf("power up: %w", err)
	}

	log.Printf("cs1237: writing configuration 0x%02x", d.cfg.Byte())

	for i := 0; i < discardBits; i++ {
		if err := d.pulse(); err != nil {
			return protocolErr("discard status", err)
		}
	}

	if err := data.AsOutput(gpio.Low); err != nil {
		return protocolErr("data as output", err)
	}
	if err := d.shiftOut(cmdWriteConfig, 7); err != nil {
		return protocolErr("write command", err)
	}

	// Gap clock between command and register.
	if err := d.pulse(); err != nil {
		return protocolErr("gap clock", err)
	}
	if err := data.SetValue(gpio.Low); err != nil {
		return protocolErr("gap clock", err)
	}

	if err := d.shiftOut(d.cfg.Byte(), 8); err != nil {
		return protocolErr("write config", err)
	}

	if err := data.AsInput(); err != nil {
		return protocolErr("data as input", err)
	}
	if err := d.pulse(); err != nil {
		return protocolErr("final clock", err)
	}

	// Between 3 ms and 300 ms depending on the new rate.
	if err := d.waitReady(ctx, d.timing.ReadyTimeout); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	return nil
}

// shiftOut writes the low n bits of v, MSB first, one bit per clock.
func (d *Driver) shiftOut(v byte, n int) error {
	for i := n - 1; i >= 0; i-- {
		if err := d.pins.Data.SetValue(int(v>>uint(i)) & 1); err != nil {
			return err
		}
		if err := d.pulse(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) pulse() error {
	if err := d.pins.Clock.SetValue(gpio.High); err != nil {
		return err
	}
	d.delay(d.timing.HalfPeriod)
	if err := d.pins.Clock.SetValue(gpio.Low); err != nil {
		return err
	}
	d.delay(d.timing.HalfPeriod)
	return nil
}

func (d *Driver) waitReady(ctx context.Context, timeout time.Duration) error {
	err := d.pins.Data.WaitFallingEdge(ctx, timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gpio.ErrEdgeTimeout):
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case ctx.Err() != nil:
		return err
	default:
		return protocolErr("wait ready", err)
	}
}

// Read waits for the next conversion and returns it sign-extended.
// A missing data-ready edge is ErrTimeout and a failed transfer is
// ErrTransfer; neither is retried.
func (d *Driver) Read(ctx context.Context) (int32, error) {
	err := d.pins.Data.WaitFallingEdge(ctx, d.timing.ReadTimeout)
	switch {
	case err == nil:
	case errors.Is(err, gpio.ErrEdgeTimeout):
		return 0, fmt.Errorf("%w after %v", ErrTimeout, d.timing.ReadTimeout)
	case ctx.Err() != nil:
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	var b [3]byte
	if err := d.bus.Transfer(b[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return Decode24(b), nil
}

// Config returns the configuration written during the handshake.
func (d *Driver) Config() Config {
	return d.cfg
}

// Close releases both lines.
func (d *Driver) Close() error {
	return errors.Join(d.pins.Data.Close(), d.pins.Clock.Close())
}

func protocolErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProtocol, step, err)
}

// spin busy-waits for d. Kernel sleeps overshoot by tens of microseconds,
// and a clock held high for more than 100 µs powers the chip down.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
