// Package metrics holds the controller's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScreenOn = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiosk_screen_on",
			Help: "1 when the backlight is powered on",
		},
	)

	AlertActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiosk_nightscout_alert",
			Help: "1 while a glucose alert is active",
		},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_decisions_total",
			Help: "Applied decisions per tick, by reason",
		},
		[]string{"why"},
	)

	ScreenTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_screen_transitions_total",
			Help: "Backlight power transitions",
		},
		[]string{"state"},
	)

	Navigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_navigations_total",
			Help: "Browser navigations, by view and result",
		},
		[]string{"view", "result"},
	)

	BacklightErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosk_backlight_errors_total",
			Help: "Failed backlight writes",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiosk_tick_duration_seconds",
			Help:    "Time spent evaluating and applying one tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
