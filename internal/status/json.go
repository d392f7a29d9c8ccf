package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         string     `json:"state"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	LastWindow    string     `json:"last_window,omitempty"`
	LastError     *ErrorJSON `json:"last_error,omitempty"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"counts"`
	Config        ConfigJSON `json:"config"`
}

// ErrorJSON describes the most recent failure.
type ErrorJSON struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of Counts.
type CountsJSON struct {
	Sessions       int `json:"sessions"`
	WindowsSent    int `json:"windows_sent"`
	WindowsDropped int `json:"windows_dropped"`
	SessionsFailed int `json:"sessions_failed"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ADC           string `json:"adc"`
	RPCAddr       string `json:"rpc_addr"`
	HTTPAddr      string `json:"http_addr"`
	Broker        string `json:"broker,omitempty"`
	NotifyFailure string `json:"notify_failure"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.State.String(),
		Ready:         snap.FilterWarm,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Sessions:       snap.Counts.Sessions,
			WindowsSent:    snap.Counts.WindowsSent,
			WindowsDropped: snap.Counts.WindowsDropped,
			SessionsFailed: snap.Counts.SessionsFailed,
		},
		Config: ConfigJSON{
			ADC:           snap.Config.ADC,
			RPCAddr:       snap.Config.RPCAddr,
			HTTPAddr:      snap.Config.HTTPAddr,
			Broker:        snap.Config.Broker,
			NotifyFailure: snap.Config.NotifyFailure,
		},
	}
	if !snap.LastWindow.IsZero() {
		inner.LastWindow = snap.LastWindow.Format()
	}
	if snap.LastError != "" {
		inner.LastError = &ErrorJSON{
			Message:   snap.LastError,
			Timestamp: snap.LastErrorTime.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
