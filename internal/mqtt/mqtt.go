// Package mqtt publishes sample windows and lifecycle events to an MQTT
// broker and accepts start/stop commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openpsg/pressure-sensor/internal/api"
	"github.com/openpsg/pressure-sensor/internal/control"
	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// TopicValues is the MQTT topic for emitted windows.
const TopicValues = "openpsg/pressure/values"

// TopicControl is the MQTT topic the sensor takes commands from.
const TopicControl = "openpsg/pressure/control"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "openpsg/pressure/system"

// Publisher publishes windows and system events to MQTT.
type Publisher interface {
	// Notify sends one window. It satisfies sampler.Sink.
	Notify(ctx context.Context, v sampler.Values) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatValues creates the JSON payload for a window. It has the same shape
// as the params of the openpsg.values JSON-RPC notification.
func FormatValues(v sampler.Values) ([]byte, error) {
	return json.Marshal(v)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is a control message, shaped like a JSON-RPC request:
// {"method":"openpsg.start","params":[1]}.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ParseCommand decodes a control message into the signal it requests.
// Parameters are checked exactly as the JSON-RPC server checks them.
func ParseCommand(payload []byte) (control.Signal, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, fmt.Errorf("mqtt: decode command: %w", err)
	}

	var sig control.Signal
	switch cmd.Method {
	case api.MethodStart:
		sig = control.Start
	case api.MethodStop:
		sig = control.Stop
	default:
		return 0, fmt.Errorf("mqtt: unknown method %q", cmd.Method)
	}

	if _, err := api.ParseSignalIDs(cmd.Params); err != nil {
		return 0, err
	}
	return sig, nil
}
