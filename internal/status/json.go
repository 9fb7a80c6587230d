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
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ScreenOn      bool           `json:"screen_on"`
	View          string         `json:"view"`
	Why           string         `json:"why"`
	ForcedSleep   bool           `json:"forced_sleep"`
	Manual        *ManualJSON    `json:"manual,omitempty"`
	PlaylistIndex int            `json:"playlist_index"`
	Inhibit       []string       `json:"inhibit"`
	Facts         map[string]any `json:"facts,omitempty"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// ManualJSON describes an active manual override.
type ManualJSON struct {
	View  string `json:"view"`
	Until string `json:"until"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

type CountsJSON struct {
	ScreenOn         int `json:"screen_on"`
	ScreenOff        int `json:"screen_off"`
	Navigations      int `json:"navigations"`
	NavigationErrors int `json:"navigation_errors"`
}

type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

type ConfigJSON struct {
	TickMs      int64    `json:"tick_ms"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	HTTPAddr    string   `json:"http_addr"`
	Views       []string `json:"views"`
	Plugins     []string `json:"plugins"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		ScreenOn:      snap.ScreenOn,
		View:          snap.View,
		Why:           string(snap.Why),
		ForcedSleep:   snap.ForcedSleep,
		PlaylistIndex: snap.PlaylistIndex,
		Inhibit:       snap.Inhibit,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ScreenOn:         snap.Counts.ScreenOn,
			ScreenOff:        snap.Counts.ScreenOff,
			Navigations:      snap.Counts.Navigations,
			NavigationErrors: snap.Counts.NavigationErrors,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Views:       snap.Config.Views,
			Plugins:     snap.Config.Plugins,
		},
	}
	if inner.Inhibit == nil {
		inner.Inhibit = []string{}
	}
	if snap.ManualActive(snap.Now) {
		inner.Manual = &ManualJSON{View: snap.ManualView, Until: snap.ManualUntil.UTC().Format(time.RFC3339)}
	}
	if len(snap.Facts) > 0 {
		inner.Facts = make(map[string]any, len(snap.Facts))
		for k, v := range snap.Facts {
			if ts, ok := v.(time.Time); ok {
				v = ts.UTC().Format(time.RFC3339)
			}
			inner.Facts[k] = v
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// ManualActive reports whether the recorded override is in effect at now.
func (k Kiosk) ManualActive(now time.Time) bool {
	return k.ManualView != "" && now.Before(k.ManualUntil)
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
