package task

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	cfg := DefaultManagerConfig()
	cfg.Metrics = metrics
	m := NewManager(cfg)

	var undone atomic.Bool
	require.NoError(t, m.AddTasks(
		Options{Name: "ok", Task: &counterTask{}},
		Options{Name: "fail", Task: Factory(func() Task { return &failingTask{undone: &undone} })},
	))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := m.RunAndWait(ctx, "ok")
		require.NoError(t, err)
	}
	_, err := m.RunAndWait(ctx, "fail")
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.runs.WithLabelValues("ok", string(StateCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("fail", string(StateFailed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.active.WithLabelValues("ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.duration))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.runStarted("x")
		metrics.runFinished("x", StateCompleted, 0)
		metrics.throttleWait("x", 1)
	})
}
