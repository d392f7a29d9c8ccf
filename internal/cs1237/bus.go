package cs1237

import (
	"time"

	"github.com/openpsg/pressure-sensor/internal/gpio"
)

// bitBus clocks bytes in over the clock and data lines. The data line must
// be in input mode.
type bitBus struct {
	clock      gpio.OutputLine
	data       gpio.DataLine
	halfPeriod time.Duration
	delay      func(time.Duration)
}

// Transfer clocks in len(p) bytes, MSB first. DOUT is valid once SCLK has
// risen, so each bit is sampled during the high half of the clock.
func (b *bitBus) Transfer(p []byte) error {
	for i := range p {
		var v byte
		for bit := 0; bit < 8; bit++ {
			if err := b.clock.SetValue(gpio.High); err != nil {
				return err
			}
			b.delay(b.halfPeriod)
			level, err := b.data.Value()
			if err != nil {
				b.clock.SetValue(gpio.Low)
				return err
			}
			if err := b.clock.SetValue(gpio.Low); err != nil {
				return err
			}
			b.delay(b.halfPeriod)

			v <<= 1
			if level != 0 {
				v |= 0x01
			}
		}
		p[i] = v
	}
	return nil
}
