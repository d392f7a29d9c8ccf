package sampler

import "github.com/chewxy/math32"

const (
	// FullScalePa is the pressure at full-scale ADC input at gain 128.
	FullScalePa = 10400.0
	// ClampPa bounds the reported pressure.
	ClampPa = 200.0
	// MaxRaw is the largest 24-bit conversion.
	MaxRaw = 8388607
	// MaxScaled is the output at ±ClampPa.
	MaxScaled = 32767
)

// Pressure converts a filtered sample to pascals, clamped to ±ClampPa.
func Pressure(sample int32) float32 {
	p := FullScalePa * float32(sample) / MaxRaw
	return math32.Max(-ClampPa, math32.Min(ClampPa, p))
}

// Scale maps a filtered sample to the int16 output range. The pressure is
// clamped, divided by ClampPa and multiplied by MaxScaled, then rounded half
// away from zero, so MaxRaw gives 32767 and the most negative input gives
// -32767.
func Scale(sample int32) int16 {
	return int16(math32.Round(Pressure(sample) / ClampPa * MaxScaled))
}

// ScaleAll scales every sample of a window.
func ScaleAll(samples []int32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = Scale(s)
	}
	return out
}
