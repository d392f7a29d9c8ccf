package sampler

import "github.com/openpsg/pressure-sensor/internal/clock"

// Window accumulates raw samples up to a fixed capacity. Its start time is
// taken when the first sample goes into an empty window.
type Window struct {
	samples []int32
	start   clock.Timespec
}

// NewWindow creates an empty window holding capacity samples.
func NewWindow(capacity int) *Window {
	return &Window{samples: make([]int32, 0, capacity)}
}

// Push appends v, stamping the window with now() if it was empty, and
// reports whether the window is now full.
func (w *Window) Push(v int32, now func() clock.Timespec) bool {
	if len(w.samples) == 0 {
		w.start = now()
	}
	w.samples = append(w.samples, v)
	return w.Full()
}

// Full reports whether the window holds its capacity.
func (w *Window) Full() bool {
	return len(w.samples) == cap(w.samples)
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	return len(w.samples)
}

// Start returns the timestamp of the first sample.
func (w *Window) Start() clock.Timespec {
	return w.start
}

// Samples returns the held samples. The slice is reused after Reset.
func (w *Window) Samples() []int32 {
	return w.samples
}

// Reset discards all samples.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
	w.start = clock.Timespec{}
}
