// Package metrics exposes Prometheus collectors for the presence daemon.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// guard their metric calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cutpresence"

// Presence kinds used as the "kind" label of PublishesTotal.
const (
	KindActive = "active"
	KindIdle   = "idle"
	KindClear  = "clear"
)

// Modes reported by the mode gauge. Exactly one is set to 1.
var Modes = []string{"disabled", "cleared", "idle", "active"}

// Recorder holds the daemon's collectors.
type Recorder struct {
	Publishes       *prometheus.CounterVec
	PublishFailures prometheus.Counter
	ConnectAttempts *prometheus.CounterVec
	Throttled       prometheus.Counter
	Connected       prometheus.Gauge
	Mode            *prometheus.GaugeVec
}

// New registers the collectors with reg. Passing nil registers them with
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Presence frames sent to Discord, by kind.",
		}, []string{"kind"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Presence frames that could not be written.",
		}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Discord connection attempts, by result (ok/error).",
		}, []string{"result"}),
		Throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timecode_throttled_total",
			Help:      "Timecode-only updates skipped by the update throttle.",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discord_connected",
			Help:      "1 while the Discord IPC connection is up.",
		}),
		Mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Current presence mode; the active mode is 1.",
		}, []string{"mode"}),
	}
}

// Published counts one successful frame of the given kind.
func (r *Recorder) Published(kind string) {
	if r == nil {
		return
	}
	r.Publishes.WithLabelValues(kind).Inc()
}

// PublishFailed counts one failed write.
func (r *Recorder) PublishFailed() {
	if r == nil {
		return
	}
	r.PublishFailures.Inc()
}

// ConnectAttempt counts one connection attempt.
func (r *Recorder) ConnectAttempt(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.ConnectAttempts.WithLabelValues(result).Inc()
}

// TimecodeThrottled counts one skipped timecode update.
func (r *Recorder) TimecodeThrottled() {
	if r == nil {
		return
	}
	r.Throttled.Inc()
}

// SetState updates the connection and mode gauges.
func (r *Recorder) SetState(connected bool, mode string) {
	if r == nil {
		return
	}
	if connected {
		r.Connected.Set(1)
	} else {
		r.Connected.Set(0)
	}
	for _, m := range Modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		r.Mode.WithLabelValues(m).Set(v)
	}
}
