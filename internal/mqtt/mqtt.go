// Package mqtt publishes kiosk state transitions and lifecycle events.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/kiosk-control/internal/policy"
)

// DefaultPrefix is the topic prefix when none is configured.
const DefaultPrefix = "kiosk"

// Topics holds the topic names derived from a prefix.
type Topics struct {
	// Events carries screen and view transitions (QoS 0).
	Events string
	// System carries STARTUP, SHUTDOWN, HEARTBEAT and RECONNECTED (QoS 1).
	System string
}

// TopicsFor derives the topics for prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Events: prefix + "/events", System: prefix + "/system"}
}

// Publisher publishes events to MQTT. Errors are reported, never fatal.
type Publisher interface {
	Publish(event policy.Event) error
	PublishSystem(event SystemEvent) error
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED
	Reason    string
	// RawPayload, if set, is published as is (full status snapshots).
	RawPayload []byte
	Retained   bool
}

// Payload is the JSON body for a transition event.
type Payload struct {
	Kiosk KioskPayload `json:"kiosk"`
}

type KioskPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	ScreenOn  bool   `json:"screen_on"`
	View      string `json:"view"`
	Why       string `json:"why"`
}

// FormatPayload encodes a transition event.
func FormatPayload(event policy.Event) ([]byte, error) {
	return json.Marshal(Payload{
		Kiosk: KioskPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			ScreenOn:  event.ScreenOn,
			View:      event.View,
			Why:       string(event.Why),
		},
	})
}

// SystemPayload is used for events without a status snapshot (will, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes a lifecycle event, preferring RawPayload.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
