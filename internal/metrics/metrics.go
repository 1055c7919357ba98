// Package metrics exposes Prometheus collectors for the playback and download loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "couchcast_downloads_in_flight",
		Help: "Number of downloads currently holding a worker slot",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couchcast_downloads_total",
		Help: "Total number of finished downloads by result",
	}, []string{"result"})

	playbackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couchcast_playback_transitions_total",
		Help: "Total number of terminal playback transitions by cause",
	}, []string{"cause"})

	playbackDroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couchcast_playback_dropped_events_total",
		Help: "Total number of engine events dropped by reason",
	}, []string{"reason"})

	playbackStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couchcast_playback_starts_total",
		Help: "Total number of playback start attempts by result",
	}, []string{"result"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couchcast_http_rate_limited_total",
		Help: "Total number of HTTP requests rejected by the rate limiter by scope",
	}, []string{"scope"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "couchcast_circuit_breaker_state",
		Help: "Circuit breaker state by component (1 for the active state, 0 otherwise)",
	}, []string{"component", "state"})
)

var circuitStates = []string{"closed", "half_open", "open"}

// DownloadStarted marks a worker slot as busy
func DownloadStarted() {
	downloadsInFlight.Inc()
}

// DownloadFinished releases a worker slot and counts the result
func DownloadFinished(result string) {
	downloadsInFlight.Dec()
	downloadsTotal.WithLabelValues(label(result)).Inc()
}

// PlaybackTransition counts a terminal transition
func PlaybackTransition(cause string) {
	playbackTransitions.WithLabelValues(label(cause)).Inc()
}

// PlaybackEventDropped counts an engine event that was not processed
func PlaybackEventDropped(reason string) {
	playbackDroppedEvents.WithLabelValues(label(reason)).Inc()
}

// PlaybackStart counts an attempt to hand an item to the engine
func PlaybackStart(result string) {
	playbackStarts.WithLabelValues(label(result)).Inc()
}

// RateLimited counts a rejected HTTP request
func RateLimited(scope string) {
	rateLimited.WithLabelValues(label(scope)).Inc()
}

// SetCircuitBreakerState records the active circuit breaker state for a component
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
