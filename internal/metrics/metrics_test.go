package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/kubehop/internal/remote"
)

func TestObserveJob(t *testing.T) {
	m := New()

	m.ObserveJob("10.0.0.1", "init", remote.StatusCompleted, 3*time.Second)
	m.ObserveJob("10.0.0.1", "init", remote.StatusCompleted, time.Second)
	m.ObserveJob("10.0.0.2", "join", remote.StatusFailed, time.Second)

	counter, err := m.jobsTotal.GetMetricWithLabelValues("10.0.0.1", "init", "completed")
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(counter))

	failed, err := m.jobsTotal.GetMetricWithLabelValues("10.0.0.2", "join", "failed")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(failed))

	assert.Equal(t, 2, testutil.CollectAndCount(m.jobDuration))
}

func TestObservePhaseAndNode(t *testing.T) {
	m := New()

	m.ObservePhase("bundled", nil, time.Second)
	m.ObservePhase("workers-joined", errors.New("boom"), time.Second)
	m.ObserveNode("worker", "succeeded")
	m.ObserveNode("worker", "not-attempted")

	assert.Equal(t, 2, testutil.CollectAndCount(m.phaseDuration))

	counter, err := m.nodesTotal.GetMetricWithLabelValues("worker", "succeeded")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.ObserveJob("h", "d", remote.StatusCompleted, time.Second)
	m.ObservePhase("p", nil, time.Second)
	m.ObserveNode("worker", "succeeded")
	assert.NoError(t, m.WriteFile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.ObserveNode("control-plane", "succeeded")

	path := filepath.Join(t.TempDir(), "kubehop.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kubehop_nodes_total{outcome="succeeded",role="control-plane"} 1`)
}
