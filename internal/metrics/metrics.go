// Package metrics declares the prometheus collectors for scan processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the reconciliation engine.
type Metrics struct {
	Scans        *prometheus.CounterVec
	MirrorPushes *prometheus.CounterVec
	Reconcile    prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "Scan events processed, by outcome.",
		}, []string{"outcome"}),
		MirrorPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_mirror_push_total",
			Help: "Remote mirror push attempts, by result.",
		}, []string{"result"}),
		Reconcile: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_reconcile_seconds",
			Help:    "Time to reconcile one scan, including the mirror push.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.MirrorPushes, m.Reconcile)
	}
	return m
}

// ObserveScan counts one processed scan.
func (m *Metrics) ObserveScan(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
	m.Reconcile.Observe(seconds)
}

// ObservePush counts one mirror push attempt.
func (m *Metrics) ObservePush(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.MirrorPushes.WithLabelValues(result).Inc()
}
