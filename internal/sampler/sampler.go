// Package sampler runs the acquisition state machine: it waits for Start,
// reads the ADC continuously, filters and scales each full window and hands
// it to a sink, until Stop or a read error returns it to Idle.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/openpsg/pressure-sensor/internal/biquad"
	"github.com/openpsg/pressure-sensor/internal/clock"
	"github.com/openpsg/pressure-sensor/internal/control"
)

const (
	// SignalID identifies the nasal pressure channel.
	SignalID uint32 = 1
	// SamplesPerSecond is the window capacity; one window is one second.
	SamplesPerSecond = 40
)

// ErrMissingDependency is returned by New when a collaborator is nil.
var ErrMissingDependency = errors.New("sampler: missing dependency")

// ADC produces raw conversions. Read blocks until a sample is ready, the
// driver's own timeout passes, or ctx is cancelled.
type ADC interface {
	Read(ctx context.Context) (int32, error)
}

// State is the sampler's mode.
type State int32

const (
	Idle State = iota
	Sampling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// NotifyFailurePolicy decides what a failed sink delivery does.
type NotifyFailurePolicy int

const (
	// FailSession ends the session as a read error does: the window is
	// lost and the sampler waits for a new Start.
	FailSession NotifyFailurePolicy = iota
	// DropWindow logs the failure, drops the window and keeps sampling.
	DropWindow
)

func (p NotifyFailurePolicy) String() string {
	switch p {
	case FailSession:
		return "fail-session"
	case DropWindow:
		return "drop-window"
	default:
		return fmt.Sprintf("NotifyFailurePolicy(%d)", int(p))
	}
}

// ParseNotifyFailurePolicy accepts "fail-session" or "drop-window".
func ParseNotifyFailurePolicy(s string) (NotifyFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail-session":
		return FailSession, nil
	case "drop-window":
		return DropWindow, nil
	}
	return 0, fmt.Errorf("sampler: unknown notify failure policy %q", s)
}

// Observer is told about state changes and window outcomes. Calls come
// from the Run goroutine.
type Observer interface {
	StateChanged(s State)
	// FiltersApplied follows every pass of the filter chain, before the
	// window is delivered.
	FiltersApplied(warm bool)
	WindowSent(v Values)
	WindowDropped(err error)
	SessionFailed(err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)  {}
func (nopObserver) FiltersApplied(bool) {}
func (nopObserver) WindowSent(Values)   {}
func (nopObserver) WindowDropped(error) {}
func (nopObserver) SessionFailed(error) {}

// Option configures a Sampler.
type Option func(*Sampler)

// WithObserver reports progress to o.
func WithObserver(o Observer) Option {
	return func(s *Sampler) { s.observer = o }
}

// WithNotifyFailurePolicy sets the sink failure policy. The default is
// FailSession.
func WithNotifyFailurePolicy(p NotifyFailurePolicy) Option {
	return func(s *Sampler) { s.policy = p }
}

// WithFilters replaces the filter sections applied to each window, in order.
func WithFilters(c ...biquad.Coefficients) Option {
	return func(s *Sampler) { s.filters = c }
}

type readResult struct {
	v   int32
	err error
}

// inflight is a pending ADC read. Its result channel has room for one value
// so the reader goroutine never blocks.
type inflight struct {
	done   chan readResult
	cancel context.CancelFunc
}

// Sampler owns the ADC and the filter state for its lifetime. Filter state
// carries over across windows and across Stop/Start.
type Sampler struct {
	adc      ADC
	mailbox  *control.Mailbox
	clock    clock.Clock
	sink     Sink
	observer Observer
	policy   NotifyFailurePolicy
	filters  []biquad.Coefficients

	chain  biquad.Chain[int32]
	window *Window
	read   *inflight
	state  atomic.Int32
}

// New builds a Sampler. Invalid filter coefficients are rejected here.
func New(adc ADC, mailbox *control.Mailbox, clk clock.Clock, sink Sink, opts ...Option) (*Sampler, error) {
	if adc == nil || mailbox == nil || clk == nil || sink == nil {
		return nil, ErrMissingDependency
	}
	s := &Sampler{
		adc:      adc,
		mailbox:  mailbox,
		clock:    clk,
		sink:     sink,
		observer: nopObserver{},
		policy:   FailSession,
		filters:  []biquad.Coefficients{biquad.DCRejection, biquad.MainsAliasNotch},
		window:   NewWindow(SamplesPerSecond),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i, c := range s.filters {
		sec, err := biquad.New[int32](c.Numerator, c.Denominator)
		if err != nil {
			return nil, fmt.Errorf("sampler: filter %d: %w", i, err)
		}
		s.chain = append(s.chain, sec)
	}
	return s, nil
}

// State returns the current mode. Safe to call from any goroutine.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

// Run drives the state machine until ctx is cancelled and returns
// ctx.Err(). It must not be called concurrently.
func (s *Sampler) Run(ctx context.Context) error {
	defer s.setState(Idle)
	for {
		if err := s.idle(ctx); err != nil {
			return err
		}
		if err := s.sample(ctx); err != nil {
			return err
		}
	}
}

// idle blocks until Start. Stop is ignored.
func (s *Sampler) idle(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-s.mailbox.C():
			if sig != control.Start {
				continue
			}
			s.window.Reset()
			s.setState(Sampling)
			log.Printf("sampler: started")
			return nil
		}
	}
}

// sample races the next ADC read against the next control signal until the
// session ends. It returns nil on Stop or failure and ctx.Err() on
// cancellation. An unfinished read is carried to the next iteration, and
// cancelled and drained before leaving so the ADC is never read twice at
// once.
func (s *Sampler) sample(ctx context.Context) error {
	defer s.abortRead()
	for {
		if s.read == nil {
			s.startRead(ctx)
		}
		select {
		case <-ctx.Done():
			s.window.Reset()
			return ctx.Err()

		case r := <-s.read.done:
			s.read.cancel()
			s.read = nil
			if r.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.fail(fmt.Errorf("sampler: read: %w", r.err))
				return nil
			}
			if !s.window.Push(r.v, s.clock.Now) {
				continue
			}
			if err := s.flush(ctx); err != nil {
				s.fail(err)
				return nil
			}

		case sig := <-s.mailbox.C():
			if sig == control.Stop {
				s.abortRead()
				s.window.Reset()
				s.setState(Idle)
				log.Printf("sampler: stopped")
				return nil
			}
		}
	}
}

// flush filters, scales and delivers the full window, then clears it.
// It returns an error only when the failure ends the session.
func (s *Sampler) flush(ctx context.Context) error {
	defer s.window.Reset()

	samples := s.window.Samples()
	s.chain.Apply(samples)
	s.observer.FiltersApplied(s.chain.Warm())
	v := Values{
		ID:        SignalID,
		Timestamp: s.window.Start(),
		Values:    ScaleAll(samples),
	}

	err := s.sink.Notify(ctx, v)
	switch {
	case err == nil:
		s.observer.WindowSent(v)
		return nil
	case s.policy == DropWindow:
		log.Printf("sampler: dropping window %s: %v", v.Timestamp, err)
		s.observer.WindowDropped(err)
		return nil
	default:
		return fmt.Errorf("sampler: notify: %w", err)
	}
}

func (s *Sampler) startRead(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r := &inflight{done: make(chan readResult, 1), cancel: cancel}
	go func() {
		v, err := s.adc.Read(rctx)
		r.done <- readResult{v: v, err: err}
	}()
	s.read = r
}

// abortRead cancels a pending read and waits for it to return.
func (s *Sampler) abortRead() {
	if s.read == nil {
		return
	}
	s.read.cancel()
	<-s.read.done
	s.read = nil
}

func (s *Sampler) fail(err error) {
	log.Printf("sampler: session ended: %v", err)
	s.abortRead()
	s.window.Reset()
	s.setState(Idle)
	s.observer.SessionFailed(err)
}

func (s *Sampler) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.observer.StateChanged(st)
	}
}
