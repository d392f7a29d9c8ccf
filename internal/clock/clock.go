// Package clock provides the time source used to stamp sample windows.
// There is no package-level clock: construct one System in main and pass it
// to everything that needs the time.
package clock

import (
	"encoding/json"
	"sync"
	"time"
)

// Layout is RFC 3339 in UTC with microsecond precision.
const Layout = "2006-01-02T15:04:05.000000Z07:00"

// Timespec is a point in time as seconds and microseconds since the epoch.
type Timespec struct {
	Seconds uint64
	Micros  uint32
}

// FromTime converts t to a Timespec, truncating to microseconds.
func FromTime(t time.Time) Timespec {
	return Timespec{
		Seconds: uint64(t.Unix()),
		Micros:  uint32(t.Nanosecond() / 1000),
	}
}

// Time returns ts as a UTC time.Time.
func (ts Timespec) Time() time.Time {
	return time.Unix(int64(ts.Seconds), int64(ts.Micros)*1000).UTC()
}

// Format renders ts as RFC 3339 with microseconds, e.g.
// 2026-01-01T12:00:00.000000Z.
func (ts Timespec) Format() string {
	return ts.Time().Format(Layout)
}

func (ts Timespec) String() string {
	return ts.Format()
}

// IsZero reports whether ts is the epoch.
func (ts Timespec) IsZero() bool {
	return ts.Seconds == 0 && ts.Micros == 0
}

// MarshalJSON encodes ts as its formatted string.
func (ts Timespec) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Format())
}

// UnmarshalJSON decodes an RFC 3339 string.
func (ts *Timespec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts = FromTime(t)
	return nil
}

// Clock returns the current time.
type Clock interface {
	Now() Timespec
}

// System is the wall clock plus an offset that a time-sync source can
// adjust with Set.
type System struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

// NewSystem creates a System clock reading time.Now.
func NewSystem() *System {
	return &System{now: time.Now}
}

// Now returns the adjusted time.
func (s *System) Now() Timespec {
	s.mu.RLock()
	offset := s.offset
	s.mu.RUnlock()
	return FromTime(s.now().Add(offset))
}

// Set adjusts the clock so that Now returns ts at this instant.
func (s *System) Set(ts Timespec) {
	s.mu.Lock()
	s.offset = ts.Time().Sub(s.now())
	s.mu.Unlock()
}

// Offset returns the current adjustment relative to the wall clock.
func (s *System) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Fake is a settable clock for tests. Each Now call advances it by Step.
type Fake struct {
	mu    sync.Mutex
	ts    time.Time
	Step  time.Duration
	calls int
}

// NewFake creates a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{ts: start}
}

// Now returns the current fake time, then advances it by Step.
func (f *Fake) Now() Timespec {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := FromTime(f.ts)
	f.ts = f.ts.Add(f.Step)
	f.calls++
	return ts
}

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.ts = t
	f.mu.Unlock()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.ts = f.ts.Add(d)
	f.mu.Unlock()
}

// Calls returns how many times Now has been called.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
