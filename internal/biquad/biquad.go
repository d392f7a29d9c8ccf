// Package biquad implements cascaded second-order IIR filter sections that
// run in place over sample windows and keep their state between windows.
package biquad

import (
	"errors"

	"github.com/chewxy/math32"
)

// ErrNotNormalized is returned when denominator[0] is not 1.
var ErrNotNormalized = errors.New("biquad: denominator[0] must be 1")

// Sample is any numeric type a section can filter.
type Sample interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int | ~float32 | ~float64
}

// Coefficients of a normalized section: b0,b1,b2 over 1,a1,a2.
type Coefficients struct {
	Numerator   [3]float32
	Denominator [3]float32
}

// Validate checks the denominator is normalized.
func (c Coefficients) Validate() error {
	if c.Denominator[0] != 1.0 {
		return ErrNotNormalized
	}
	return nil
}

// DCRejection is a second-order Butterworth high-pass at 0.1 Hz for a 40 Hz
// stream. It removes the transducer's baseline offset and takes about 10 s
// to settle.
var DCRejection = Coefficients{
	Numerator:   [3]float32{0.98895425, -1.9779085, 0.98895425},
	Denominator: [3]float32{1.0, -1.97778648, 0.97803051},
}

// MainsAliasNotch is a notch at 4.5 Hz, Q=0.5, for a 40 Hz stream. 50 Hz mains
// hum aliases to around 4 Hz at this rate.
var MainsAliasNotch = Coefficients{
	Numerator:   [3]float32{0.53935085, -0.82025121, 0.53935085},
	Denominator: [3]float32{1.0, -0.82025121, 0.07870171},
}

// Section is a direct-form I biquad.
type Section[T Sample] struct {
	b0, b1, b2 float32
	a1, a2     float32

	x1, x2 float32
	y1, y2 float32

	processed uint64
}

// New creates a section from normalized coefficients.
func New[T Sample](numerator, denominator [3]float32) (*Section[T], error) {
	c := Coefficients{Numerator: numerator, Denominator: denominator}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Section[T]{
		b0: numerator[0],
		b1: numerator[1],
		b2: numerator[2],
		a1: denominator[1],
		a2: denominator[2],
	}, nil
}

// MustNew is like New but panics on unnormalized coefficients. It is meant
// for the fixed coefficient sets in this package.
func MustNew[T Sample](c Coefficients) *Section[T] {
	s, err := New[T](c.Numerator, c.Denominator)
	if err != nil {
		panic(err)
	}
	return s
}

// Apply filters samples in place.
//
// The very first sample a section ever sees seeds all four history values so
// the filter starts in steady state instead of ringing. The seeding never
// happens again: history carries over from one call to the next.
//
// Values that cannot be represented become 0 rather than failing.
func (s *Section[T]) Apply(samples []T) {
	for i, sample := range samples {
		x := toFloat(sample)

		if s.processed == 0 {
			s.x1, s.x2 = x, x
			s.y1, s.y2 = x, x
		}
		s.processed++

		y := s.b0*x + s.b1*s.x1 + s.b2*s.x2 - s.a1*s.y1 - s.a2*s.y2

		s.x2 = s.x1
		s.x1 = x
		s.y2 = s.y1
		s.y1 = y

		samples[i] = fromFloat[T](y)
	}
}

// Warm reports whether the section has processed at least one sample.
func (s *Section[T]) Warm() bool {
	return s.processed > 0
}

// Processed returns the number of samples filtered so far.
func (s *Section[T]) Processed() uint64 {
	return s.processed
}

// Chain runs sections in order.
type Chain[T Sample] []*Section[T]

// Apply filters samples in place through every section.
func (c Chain[T]) Apply(samples []T) {
	for _, s := range c {
		s.Apply(samples)
	}
}

// Warm reports whether every section has processed a sample.
func (c Chain[T]) Warm() bool {
	for _, s := range c {
		if !s.Warm() {
			return false
		}
	}
	return len(c) > 0
}

// NewPressureChain returns the DC rejection high-pass followed by the mains
// alias notch.
func NewPressureChain[T Sample]() Chain[T] {
	return Chain[T]{
		MustNew[T](DCRejection),
		MustNew[T](MainsAliasNotch),
	}
}

func toFloat[T Sample](v T) float32 {
	f := float32(v)
	if math32.IsNaN(f) || math32.IsInf(f, 0) {
		return 0
	}
	return f
}

// fromFloat converts f to T, or 0 when T cannot hold it. Go leaves
// out-of-range float to integer conversions implementation defined, so the
// result is checked against f.
func fromFloat[T Sample](f float32) T {
	if math32.IsNaN(f) || math32.IsInf(f, 0) {
		return 0
	}
	v := T(f)
	if math32.Abs(float32(v)-f) >= 1 {
		return 0
	}
	return v
}
