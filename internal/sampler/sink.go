package sampler

import (
	"context"
	"errors"

	"github.com/openpsg/pressure-sensor/internal/clock"
)

// Values is one emitted window: the signal id, the time of its first
// sample and the scaled samples in order.
type Values struct {
	ID        uint32         `json:"id"`
	Timestamp clock.Timespec `json:"timestamp"`
	Values    []int16        `json:"values"`
}

// Sink receives completed windows. Implementations must be safe to call
// while other goroutines use them.
type Sink interface {
	Notify(ctx context.Context, v Values) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, v Values) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, v Values) error {
	return f(ctx, v)
}

// Sinks delivers to every sink in order. All sinks are tried; their
// errors are joined.
type Sinks []Sink

// Notify implements Sink.
func (s Sinks) Notify(ctx context.Context, v Values) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Notify(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
