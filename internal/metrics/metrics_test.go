package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveScan("CheckedIn", 0.01)
	m.ObserveScan("CheckedIn", 0.02)
	m.ObserveScan("DuplicateRejected", 0.01)
	m.ObservePush(true)
	m.ObservePush(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("CheckedIn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("DuplicateRejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorPushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorPushes.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(reg, "attendance_reconcile_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveScan("CheckedIn", 0)
	m.ObservePush(false)
}
