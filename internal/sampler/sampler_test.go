package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpsg/pressure-sensor/internal/biquad"
	"github.com/openpsg/pressure-sensor/internal/clock"
	"github.com/openpsg/pressure-sensor/internal/control"
)

const (
	pushTimeout = 2 * time.Second
	waitFor     = 2 * time.Second
	tick        = time.Millisecond
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	states  []State
	warm    bool
	sent    int
	dropped []error
	failed  []error
}

func (r *recorder) StateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) FiltersApplied(warm bool) {
	r.mu.Lock()
	r.warm = warm
	r.mu.Unlock()
}

func (r *recorder) filtersWarm() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warm
}

func (r *recorder) WindowSent(Values) {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *recorder) WindowDropped(err error) {
	r.mu.Lock()
	r.dropped = append(r.dropped, err)
	r.mu.Unlock()
}

func (r *recorder) SessionFailed(err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
}

func (r *recorder) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failed...)
}

func (r *recorder) drops() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.dropped...)
}

type harness struct {
	adc  *FakeADC
	sink *FakeSink
	mb   *control.Mailbox
	clk  *clock.Fake
	obs  *recorder
	s    *Sampler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		adc:  NewFakeADC(),
		sink: &FakeSink{},
		mb:   control.NewMailbox(),
		clk:  clock.NewFake(t0),
		obs:  &recorder{},
	}
	h.clk.Step = time.Second

	opts = append([]Option{WithObserver(h.obs)}, opts...)
	s, err := New(h.adc, h.mb, h.clk, h.sink, opts...)
	require.NoError(t, err)
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitFor):
			t.Error("Run did not return after cancel")
		}
		assert.Equal(t, 1, h.adc.MaxConcurrent(), "ADC must never be read concurrently")
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.mb.Send(control.Start)
	require.Eventually(t, func() bool { return h.s.State() == Sampling }, waitFor, tick)
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.mb.Send(control.Stop)
	require.Eventually(t, func() bool { return h.s.State() == Idle }, waitFor, tick)
}

func (h *harness) push(t *testing.T, vs ...int32) {
	t.Helper()
	for i, v := range vs {
		require.True(t, h.adc.Push(v, pushTimeout), "sample %d not read", i)
	}
}

func (h *harness) waitWindows(t *testing.T, n int) []Values {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.sink.Windows()) >= n }, waitFor, tick)
	return h.sink.Windows()
}

func repeat(v int32, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	mb := control.NewMailbox()
	clk := clock.NewFake(t0)

	_, err := New(nil, mb, clk, &FakeSink{})
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = New(NewFakeADC(), nil, clk, &FakeSink{})
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = New(NewFakeADC(), mb, nil, &FakeSink{})
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = New(NewFakeADC(), mb, clk, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestNewRejectsUnnormalizedFilter(t *testing.T) {
	bad := biquad.Coefficients{
		Numerator:   [3]float32{1, 0, 0},
		Denominator: [3]float32{2, 0, 0},
	}
	_, err := New(NewFakeADC(), control.NewMailbox(), clock.NewFake(t0), &FakeSink{}, WithFilters(biquad.DCRejection, bad))
	require.Error(t, err)
	assert.ErrorIs(t, err, biquad.ErrNotNormalized)
	assert.Contains(t, err.Error(), "filter 1")
}

func TestStopWhileIdleIgnored(t *testing.T) {
	h := newHarness(t)
	h.mb.Send(control.Stop)
	require.Eventually(t, func() bool { return len(h.mb.C()) == 0 }, waitFor, tick)
	assert.Equal(t, Idle, h.s.State())

	h.start(t)
}

func TestOneWindowPerFortySamples(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, repeat(0, SamplesPerSecond-1)...)
	assert.Zero(t, h.sink.Attempts(), "partial window must not be emitted")

	h.push(t, 0)
	got := h.waitWindows(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, SignalID, got[0].ID)
	assert.Len(t, got[0].Values, SamplesPerSecond)

	h.push(t, repeat(0, 3*SamplesPerSecond)...)
	got = h.waitWindows(t, 4)
	assert.Len(t, got, 4)

	// One more sample starts a fifth window but does not complete it.
	h.push(t, 0)
	h.stop(t)
	assert.Len(t, h.sink.Windows(), 4)
}

func TestZeroInputEmitsZeros(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.clk.Set(t0.Add(90 * time.Second))

	h.push(t, repeat(0, SamplesPerSecond)...)
	got := h.waitWindows(t, 1)

	assert.Equal(t, make([]int16, SamplesPerSecond), got[0].Values)
	assert.Equal(t, clock.FromTime(t0.Add(90*time.Second)), got[0].Timestamp,
		"timestamp is the clock at the first sample")
	assert.Equal(t, 1, h.clk.Calls())
}

func TestWindowTimestamps(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, repeat(0, 2*SamplesPerSecond)...)
	got := h.waitWindows(t, 2)
	assert.Equal(t, clock.FromTime(t0), got[0].Timestamp)
	assert.Equal(t, clock.FromTime(t0.Add(time.Second)), got[1].Timestamp)
}

func TestStopMidWindowDiscards(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, repeat(1000, 10)...)
	require.Eventually(t, func() bool { return h.adc.Reads() == 11 }, waitFor, tick)
	h.stop(t)
	assert.Zero(t, h.sink.Attempts())

	h.start(t)
	h.push(t, repeat(1000, SamplesPerSecond-1)...)
	assert.Zero(t, h.sink.Attempts(), "new session must start with an empty window")

	h.push(t, 1000)
	got := h.waitWindows(t, 1)
	require.Len(t, got, 1)
	// The first session's window took the first clock reading.
	assert.Equal(t, clock.FromTime(t0.Add(time.Second)), got[0].Timestamp)
	assert.Equal(t, 1, h.adc.Canceled(), "stop cancels the pending read")
}

func TestStartWhileSamplingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.push(t, repeat(0, 10)...)
	h.mb.Send(control.Start)
	require.Eventually(t, func() bool { return len(h.mb.C()) == 0 }, waitFor, tick)
	assert.Equal(t, Sampling, h.s.State())

	h.push(t, repeat(0, SamplesPerSecond-10)...)
	got := h.waitWindows(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, clock.FromTime(t0), got[0].Timestamp)
}

func TestReadErrorEndsSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	readErr := errors.New("no data-ready edge")
	h.push(t, repeat(0, 5)...)
	require.True(t, h.adc.Fail(readErr, pushTimeout))
	require.Eventually(t, func() bool { return h.s.State() == Idle }, waitFor, tick)

	failures := h.obs.failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], readErr)

	// No automatic retry: a read now would block forever.
	assert.False(t, h.adc.Push(0, 20*time.Millisecond))

	h.start(t)
	h.push(t, repeat(0, SamplesPerSecond-5)...)
	assert.Zero(t, h.sink.Attempts(), "partial window is discarded on error")
	h.push(t, repeat(0, 5)...)
	h.waitWindows(t, 1)
}

func TestNotifyFailureFailsSession(t *testing.T) {
	h := newHarness(t)
	sinkErr := errors.New("transport down")
	h.sink.SetError(sinkErr)
	h.start(t)

	h.push(t, repeat(0, SamplesPerSecond)...)
	require.Eventually(t, func() bool { return h.s.State() == Idle }, waitFor, tick)
	assert.Equal(t, 1, h.sink.Attempts())

	failures := h.obs.failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], sinkErr)
	assert.True(t, h.obs.filtersWarm(), "the chain ran before the failed delivery")

	h.sink.SetError(nil)
	h.start(t)
	h.push(t, repeat(0, SamplesPerSecond)...)
	h.waitWindows(t, 1)
}

func TestNotifyFailureDropsWindow(t *testing.T) {
	h := newHarness(t, WithNotifyFailurePolicy(DropWindow))
	sinkErr := errors.New("transport down")
	h.sink.SetError(sinkErr)
	h.start(t)

	h.push(t, repeat(0, SamplesPerSecond)...)
	require.Eventually(t, func() bool { return len(h.obs.drops()) == 1 }, waitFor, tick)
	assert.Equal(t, Sampling, h.s.State())
	assert.Empty(t, h.obs.failures())

	h.sink.SetError(nil)
	h.push(t, repeat(0, SamplesPerSecond)...)
	got := h.waitWindows(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, clock.FromTime(t0.Add(time.Second)), got[0].Timestamp)
	assert.Equal(t, 2, h.sink.Attempts())
}

func TestFilterStateCarriesAcrossWindowsAndSessions(t *testing.T) {
	raw := make([]int32, 3*SamplesPerSecond)
	for i := range raw {
		raw[i] = 100000 + int32(i)*2000
	}

	ref := biquad.NewPressureChain[int32]()
	var want [][]int16
	for w := 0; w < 3; w++ {
		chunk := append([]int32(nil), raw[w*SamplesPerSecond:(w+1)*SamplesPerSecond]...)
		ref.Apply(chunk)
		want = append(want, ScaleAll(chunk))
	}

	h := newHarness(t)
	h.start(t)
	h.push(t, raw[:2*SamplesPerSecond]...)
	h.waitWindows(t, 2)
	h.stop(t)
	h.start(t)
	h.push(t, raw[2*SamplesPerSecond:]...)
	got := h.waitWindows(t, 3)

	for w := range want {
		assert.Equal(t, want[w], got[w].Values, "window %d", w)
	}

	fresh := biquad.NewPressureChain[int32]()
	third := append([]int32(nil), raw[2*SamplesPerSecond:]...)
	fresh.Apply(third)
	assert.NotEqual(t, ScaleAll(third), got[2].Values, "a reset filter would produce different output")
}

func TestRunReturnsOnCancelWhileSampling(t *testing.T) {
	adc := NewFakeADC()
	mb := control.NewMailbox()
	s, err := New(adc, mb, clock.NewFake(t0), &FakeSink{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	mb.Send(control.Start)
	require.Eventually(t, func() bool { return s.State() == Sampling }, waitFor, tick)
	require.True(t, adc.Push(1, pushTimeout))
	// Wait until the next read is pending before cancelling.
	require.Eventually(t, func() bool { return adc.Reads() == 2 }, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, adc.Canceled())
}

func TestSinks(t *testing.T) {
	a, b := &FakeSink{}, &FakeSink{}
	errB := errors.New("b failed")
	b.SetError(errB)

	var calls []string
	c := SinkFunc(func(_ context.Context, v Values) error {
		calls = append(calls, "c")
		return nil
	})

	v := Values{ID: SignalID, Values: []int16{1, 2}}
	err := Sinks{a, b, c}.Notify(context.Background(), v)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, a.Windows(), 1)
	assert.Equal(t, 1, b.Attempts())
	assert.Equal(t, []string{"c"}, calls, "later sinks still run after a failure")

	assert.NoError(t, Sinks{}.Notify(context.Background(), v))
}

func TestStateAndPolicyStrings(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "sampling", Sampling.String())
	assert.Equal(t, "State(9)", State(9).String())

	for _, p := range []NotifyFailurePolicy{FailSession, DropWindow} {
		got, err := ParseNotifyFailurePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseNotifyFailurePolicy(" Drop-Window ")
	require.NoError(t, err)
	assert.Equal(t, DropWindow, got)
	_, err = ParseNotifyFailurePolicy("retry")
	assert.Error(t, err)
}
