package sampler

import (
	"context"
	"sync"
	"time"
)

// FakeADC hands out conversions pushed by a test. Read blocks until a value
// is pushed or ctx is cancelled.
type FakeADC struct {
	results chan readResult

	mu       sync.Mutex
	reads    int
	active   int
	maxSeen  int
	canceled int
}

// NewFakeADC creates a FakeADC with nothing pushed.
func NewFakeADC() *FakeADC {
	return &FakeADC{results: make(chan readResult)}
}

// Read implements ADC.
func (f *FakeADC) Read(ctx context.Context) (int32, error) {
	f.mu.Lock()
	f.reads++
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	select {
	case r := <-f.results:
		return r.v, r.err
	case <-ctx.Done():
		f.mu.Lock()
		f.canceled++
		f.mu.Unlock()
		return 0, ctx.Err()
	}
}

// Push delivers v to a pending Read. It reports false if no Read took it
// within timeout.
func (f *FakeADC) Push(v int32, timeout time.Duration) bool {
	return f.deliver(readResult{v: v}, timeout)
}

// Fail makes a pending Read return err.
func (f *FakeADC) Fail(err error, timeout time.Duration) bool {
	return f.deliver(readResult{err: err}, timeout)
}

func (f *FakeADC) deliver(r readResult, timeout time.Duration) bool {
	select {
	case f.results <- r:
		return true
	case <-time.After(timeout):
		return false
	}
}

// MaxConcurrent returns the most Reads ever in progress at once.
func (f *FakeADC) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// Reads returns how many Reads have started.
func (f *FakeADC) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Canceled returns how many Reads ended by cancellation.
func (f *FakeADC) Canceled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

// FakeSink records delivered windows.
type FakeSink struct {
	mu       sync.Mutex
	err      error
	attempts int
	windows  []Values
}

// Notify implements Sink. When an error is set it is returned and the
// window is not recorded.
func (f *FakeSink) Notify(_ context.Context, v Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.windows = append(f.windows, v)
	return nil
}

// SetError makes subsequent Notify calls fail with err (nil clears it).
func (f *FakeSink) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Windows returns a copy of the delivered windows.
func (f *FakeSink) Windows() []Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Values, len(f.windows))
	copy(out, f.windows)
	return out
}

// Attempts returns how many times Notify was called.
func (f *FakeSink) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}
