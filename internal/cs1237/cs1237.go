// Package cs1237 drives a CS1237 24-bit delta-sigma ADC over a clock line and
// a shared data/data-ready line.
//
// The chip is configured once with a bit-banged write-configuration
// handshake, after which every conversion is announced by a falling edge on
// the data line and clocked out as three bytes, MSB first.
package cs1237

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SampleRate is the ADC output rate class.
type SampleRate uint8

const (
	SPS10 SampleRate = iota
	SPS40
	SPS640
	SPS1280
)

// Gain is the programmable gain class.
type Gain uint8

const (
	G1 Gain = iota
	G2
	G64
	G128
)

// Channel selects the multiplexer input.
type Channel uint8

const (
	ChannelA Channel = iota
	Reserved
	Temperature
	InternalShort
)

// cmdWriteConfig is the 7-bit write-configuration command.
const cmdWriteConfig = 0x65

// discardBits is the number of clocks that skip the sample and status
// word before the command can be written.
const discardBits = 29

var (
	// ErrTimeout indicates the chip did not assert data-ready in time.
	ErrTimeout = errors.New("cs1237: timeout waiting for data ready")
	// ErrProtocol indicates a line failure during the configuration handshake.
	ErrProtocol = errors.New("cs1237: protocol error")
	// ErrTransfer indicates a bus failure while reading a sample.
	ErrTransfer = errors.New("cs1237: transfer error")
	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("cs1237: invalid configuration")
)

var rateHz = [...]int{10, 40, 640, 1280}

// Hz returns the number of samples per second.
func (r SampleRate) Hz() int {
	if !r.Valid() {
		return 0
	}
	return rateHz[r]
}

// Valid reports whether r is a defined rate class.
func (r SampleRate) Valid() bool { return r <= SPS1280 }

func (r SampleRate) String() string {
	if !r.Valid() {
		return fmt.Sprintf("SampleRate(%d)", uint8(r))
	}
	return fmt.Sprintf("SPS%d", rateHz[r])
}

// ParseSampleRate maps samples per second to a rate class.
func ParseSampleRate(hz int) (SampleRate, error) {
	for i, v := range rateHz {
		if v == hz {
			return SampleRate(i), nil
		}
	}
	return 0, fmt.Errorf("%w: sample rate %d (want 10, 40, 640 or 1280)", ErrInvalidConfig, hz)
}

var gainFactor = [...]int{1, 2, 64, 128}

// Valid reports whether g is a defined gain class.
func (g Gain) Valid() bool { return g <= G128 }

func (g Gain) String() string {
	if !g.Valid() {
		return fmt.Sprintf("Gain(%d)", uint8(g))
	}
	return fmt.Sprintf("G%d", gainFactor[g])
}

// ParseGain maps an amplification factor to a gain class.
func ParseGain(factor int) (Gain, error) {
	for i, v := range gainFactor {
		if v == factor {
			return Gain(i), nil
		}
	}
	return 0, fmt.Errorf("%w: gain %d (want 1, 2, 64 or 128)", ErrInvalidConfig, factor)
}

var channelNames = [...]string{"A", "reserved", "temperature", "short"}

// Valid reports whether c is a defined channel selector.
func (c Channel) Valid() bool { return c <= InternalShort }

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
	return channelNames[c]
}

// ParseChannel maps a channel name (A, reserved, temperature, short) to a
// channel selector. Matching is case-insensitive.
func ParseChannel(name string) (Channel, error) {
	for i, v := range channelNames {
		if strings.EqualFold(v, name) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: channel %q", ErrInvalidConfig, name)
}

// Config holds the ADC configuration written during the handshake.
type Config struct {
	SampleRate SampleRate
	Gain       Gain
	Channel    Channel
}

// DefaultConfig returns the power-on configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		SampleRate: SPS10,
		Gain:       G128,
		Channel:    ChannelA,
	}
}

// Validate checks every field is a defined class.
func (c Config) Validate() error {
	if !c.SampleRate.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.SampleRate)
	}
	if !c.Gain.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Gain)
	}
	if !c.Channel.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Channel)
	}
	return nil
}

// Byte encodes the configuration register: rate in bits 5:4, gain in bits
// 3:2 and channel in bits 1:0.
func (c Config) Byte() byte {
	return byte(c.SampleRate)<<4 | byte(c.Gain)<<2 | byte(c.Channel)
}

func (c Config) String() string {
	return fmt.Sprintf("%s/%s/%s", c.SampleRate, c.Gain, c.Channel)
}

// Timing holds the handshake and read bounds.
type Timing struct {
	// PowerDown is how long the clock is held high to power the chip off.
	PowerDown time.Duration
	// ReadyTimeout bounds the two data-ready waits of the handshake.
	ReadyTimeout time.Duration
	// ReadTimeout bounds the data-ready wait of each Read.
	ReadTimeout time.Duration
	// HalfPeriod is the high and low time of each clock pulse.
	HalfPeriod time.Duration
}

// DefaultTiming returns the datasheet bounds. The chip takes between 3 ms and
// 300 ms to become ready depending on rate; 110 ms per read covers SPS10.
func DefaultTiming() Timing {
	return Timing{
		PowerDown:    time.Millisecond,
		ReadyTimeout: 330 * time.Millisecond,
		ReadTimeout:  110 * time.Millisecond,
		HalfPeriod:   time.Microsecond,
	}
}

// Decode24 interprets three bytes as a big-endian 24-bit two's complement
// value, sign-extended to 32 bits.
func Decode24(b [3]byte) int32 {
	u := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if u&0x800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}
