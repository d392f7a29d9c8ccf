// Package status provides a thread-safe status tracker for the pressure
// sensor daemon. It is fed by the sampler and the MQTT publisher and read by
// the HTTP server and the lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/openpsg/pressure-sensor/internal/clock"
	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// Config contains daemon configuration for display.
type Config struct {
	ADC           string // e.g. "SPS40/G128/A"
	RPCAddr       string
	HTTPAddr      string
	Broker        string // empty = MQTT disabled
	NotifyFailure string
}

// Counts are totals since startup.
type Counts struct {
	Sessions       int // Idle -> Sampling transitions
	WindowsSent    int
	WindowsDropped int
	SessionsFailed int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State         sampler.State
	FilterWarm    bool
	Counts        Counts
	LastWindow    clock.Timespec
	LastError     string
	LastErrorTime time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// sampler.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// StateChanged records a sampler state change.
func (t *Tracker) StateChanged(s sampler.State) {
	t.mu.Lock()
	t.snap.State = s
	if s == sampler.Sampling {
		t.snap.Counts.Sessions++
	}
	t.mu.Unlock()
}

// FiltersApplied records whether the sampler's filter chain is warm.
func (t *Tracker) FiltersApplied(warm bool) {
	t.mu.Lock()
	t.snap.FilterWarm = warm
	t.mu.Unlock()
}

// WindowSent records a delivered window.
func (t *Tracker) WindowSent(v sampler.Values) {
	t.mu.Lock()
	t.snap.Counts.WindowsSent++
	t.snap.LastWindow = v.Timestamp
	t.mu.Unlock()
}

// WindowDropped records a window the sink refused.
func (t *Tracker) WindowDropped(err error) {
	t.mu.Lock()
	t.snap.Counts.WindowsDropped++
	t.setError(err)
	t.mu.Unlock()
}

// SessionFailed records a session that ended on an error.
func (t *Tracker) SessionFailed(err error) {
	t.mu.Lock()
	t.snap.Counts.SessionsFailed++
	t.setError(err)
	t.mu.Unlock()
}

func (t *Tracker) setError(err error) {
	if err == nil {
		return
	}
	t.snap.LastError = err.Error()
	t.snap.LastErrorTime = t.now()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
