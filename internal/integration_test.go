package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/openpsg/pressure-sensor/internal/api"
	"github.com/openpsg/pressure-sensor/internal/biquad"
	"github.com/openpsg/pressure-sensor/internal/clock"
	"github.com/openpsg/pressure-sensor/internal/control"
	"github.com/openpsg/pressure-sensor/internal/cs1237"
	"github.com/openpsg/pressure-sensor/internal/gpio"
	"github.com/openpsg/pressure-sensor/internal/mqtt"
	"github.com/openpsg/pressure-sensor/internal/sampler"
	"github.com/openpsg/pressure-sensor/internal/status"
)

const waitFor = 2 * time.Second

var start = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

// rig wires fake GPIO lines through the real driver, sampler and status
// tracker.
type rig struct {
	data    *gpio.FakeData
	mailbox *control.Mailbox
	clock   *clock.Fake
	tracker *status.Tracker
	sampler *sampler.Sampler
	done    chan error
}

func newRig(t *testing.T, mailbox *control.Mailbox, sink sampler.Sink) *rig {
	t.Helper()

	clk := gpio.NewFakeOutput()
	data := gpio.NewFakeData()
	data.Edges = []error{nil, nil}
	adc, err := cs1237.Configure(context.Background(), cs1237.Pins{Clock: clk, Data: data},
		cs1237.DefaultConfig(), cs1237.WithDelay(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	// Reads past the scripted samples wait for cancellation.
	data.Block = true

	r := &rig{
		data:    data,
		mailbox: mailbox,
		clock:   clock.NewFake(start),
		tracker: status.NewTracker(start, status.Config{ADC: adc.Config().String()}),
		done:    make(chan error, 1),
	}
	r.clock.Step = time.Second

	r.sampler, err = sampler.New(adc, r.mailbox, r.clock, sink, sampler.WithObserver(r.tracker))
	if err != nil {
		t.Fatalf("sampler.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { r.done <- r.sampler.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(waitFor):
			t.Error("sampler did not stop")
		}
	})
	return r
}

func (r *rig) push(samples ...int32) {
	for _, v := range samples {
		r.data.PushSample(v)
	}
}

func (r *rig) waitSnapshot(t *testing.T, what string, cond func(status.Snapshot) bool) status.Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for {
		snap := r.tracker.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %+v", what, snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func constant(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestIntegrationZeroInput drives a zero signal from the data line to the
// MQTT publisher.
func TestIntegrationZeroInput(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newRig(t, control.NewMailbox(), pub)
	r.push(constant(sampler.SamplesPerSecond, 0)...)

	r.mailbox.Send(control.Start)
	r.waitSnapshot(t, "one window", func(s status.Snapshot) bool { return s.Counts.WindowsSent == 1 })

	if got := pub.WindowCount(); got != 1 {
		t.Fatalf("windows: got %d, want 1", got)
	}
	w := pub.Windows[0]
	if !reflect.DeepEqual(w.Values, make([]int16, sampler.SamplesPerSecond)) {
		t.Errorf("values: got %v, want all zero", w.Values)
	}
	if got := w.Timestamp.Time(); !got.Equal(start) {
		t.Errorf("timestamp: got %v, want %v", got, start)
	}

	var decoded sampler.Values
	if err := json.Unmarshal(pub.Payloads[0], &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !reflect.DeepEqual(decoded, w) {
		t.Errorf("payload: got %+v, want %+v", decoded, w)
	}
}

func TestIntegrationWindowContents(t *testing.T) {
	sink := &sampler.FakeSink{}
	r := newRig(t, control.NewMailbox(), sink)
	r.push(constant(2*sampler.SamplesPerSecond, 0)...)

	r.mailbox.Send(control.Start)
	snap := r.waitSnapshot(t, "two windows", func(s status.Snapshot) bool { return s.Counts.WindowsSent == 2 })

	windows := sink.Windows()
	if len(windows) != 2 {
		t.Fatalf("windows: got %d, want 2", len(windows))
	}
	for i, w := range windows {
		if w.ID != sampler.SignalID {
			t.Errorf("window %d id: got %d, want %d", i, w.ID, sampler.SignalID)
		}
		if !reflect.DeepEqual(w.Values, make([]int16, sampler.SamplesPerSecond)) {
			t.Errorf("window %d values: got %v, want all zero", i, w.Values)
		}
	}

	// One clock reading per window, taken at its first sample.
	if got := windows[0].Timestamp.Time(); !got.Equal(start) {
		t.Errorf("window 0 timestamp: got %v, want %v", got, start)
	}
	if got := windows[1].Timestamp.Time(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("window 1 timestamp: got %v, want %v", got, start.Add(time.Second))
	}
	if snap.LastWindow != windows[1].Timestamp {
		t.Errorf("tracker last window: got %v, want %v", snap.LastWindow, windows[1].Timestamp)
	}
	if !snap.FilterWarm {
		t.Error("filters should be warm after a window")
	}
	if snap.State != sampler.Sampling {
		t.Errorf("state: got %v, want sampling", snap.State)
	}
}

func TestIntegrationStopDiscardsPartialWindow(t *testing.T) {
	sink := &sampler.FakeSink{}
	r := newRig(t, control.NewMailbox(), sink)
	r.push(constant(10, 1000)...)

	r.mailbox.Send(control.Start)
	r.waitSnapshot(t, "session start", func(s status.Snapshot) bool { return s.Counts.Sessions == 1 })
	r.mailbox.Send(control.Stop)
	r.waitSnapshot(t, "idle", func(s status.Snapshot) bool { return s.State == sampler.Idle })

	if got := len(sink.Windows()); got != 0 {
		t.Fatalf("windows after stop: got %d, want 0", got)
	}

	// Up to ten unread samples may remain scripted; forty more fill exactly
	// one window either way.
	r.push(constant(sampler.SamplesPerSecond, 1000)...)
	r.mailbox.Send(control.Start)
	r.waitSnapshot(t, "second session window", func(s status.Snapshot) bool {
		return s.Counts.Sessions == 2 && s.Counts.WindowsSent == 1
	})
	if got := len(sink.Windows()); got != 1 {
		t.Fatalf("windows: got %d, want 1", got)
	}
}

func TestIntegrationReadTimeoutEndsSession(t *testing.T) {
	sink := &sampler.FakeSink{}
	r := newRig(t, control.NewMailbox(), sink)
	r.push(constant(5, 0)...)
	// A missing data-ready edge after the scripted samples times out.
	r.data.Block = false

	r.mailbox.Send(control.Start)
	snap := r.waitSnapshot(t, "failed session", func(s status.Snapshot) bool {
		return s.Counts.SessionsFailed == 1 && s.State == sampler.Idle
	})
	if snap.LastError == "" {
		t.Error("expected last error to be recorded")
	}
	if got := len(sink.Windows()); got != 0 {
		t.Errorf("windows: got %d, want 0", got)
	}
}

func TestIntegrationFailedDeliveryKeepsFiltersWarm(t *testing.T) {
	sink := &sampler.FakeSink{}
	sink.SetError(errors.New("transport down"))
	r := newRig(t, control.NewMailbox(), sink)
	r.push(constant(sampler.SamplesPerSecond, 0)...)

	r.mailbox.Send(control.Start)
	snap := r.waitSnapshot(t, "failed session", func(s status.Snapshot) bool {
		return s.Counts.SessionsFailed == 1 && s.State == sampler.Idle
	})
	if !snap.FilterWarm {
		t.Error("filters ran on the undelivered window and should report warm")
	}
	if snap.Counts.WindowsSent != 0 {
		t.Errorf("windows sent: got %d, want 0", snap.Counts.WindowsSent)
	}
}

type valuesHandler struct {
	values chan sampler.Values
}

func (h *valuesHandler) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != api.MethodValues || req.Params == nil {
		return
	}
	var v sampler.Values
	if err := json.Unmarshal(*req.Params, &v); err == nil {
		h.values <- v
	}
}

// TestIntegrationRPCAndMQTT checks that a JSON-RPC client and the MQTT
// publisher receive the same filtered window.
func TestIntegrationRPCAndMQTT(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	mailbox := control.NewMailbox()
	rpc := api.NewServer(mailbox)
	r := newRig(t, mailbox, sampler.Sinks{rpc, pub})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- rpc.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-serveDone
	}()

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	h := &valuesHandler{values: make(chan sampler.Values, 4)}
	conn := jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(nc, jsonrpc2.VSCodeObjectCodec{}), h)
	defer conn.Close()

	raw := make([]int32, sampler.SamplesPerSecond)
	for i := range raw {
		raw[i] = int32(i-20) * 4000
	}
	r.push(raw...)

	callCtx, callCancel := context.WithTimeout(context.Background(), waitFor)
	defer callCancel()
	if err := conn.Call(callCtx, api.MethodStart, []uint32{sampler.SignalID}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	var got sampler.Values
	select {
	case got = <-h.values:
	case <-time.After(waitFor):
		t.Fatal("no openpsg.values notification")
	}

	r.waitSnapshot(t, "window sent", func(s status.Snapshot) bool { return s.Counts.WindowsSent == 1 })
	if pub.WindowCount() != 1 {
		t.Fatalf("mqtt windows: got %d, want 1", pub.WindowCount())
	}
	if !reflect.DeepEqual(got, pub.Windows[0]) {
		t.Errorf("rpc and mqtt windows differ:\nrpc:  %+v\nmqtt: %+v", got, pub.Windows[0])
	}

	want := append([]int32(nil), raw...)
	biquad.NewPressureChain[int32]().Apply(want)
	if !reflect.DeepEqual(got.Values, sampler.ScaleAll(want)) {
		t.Errorf("values: got %v, want %v", got.Values, sampler.ScaleAll(want))
	}
}
