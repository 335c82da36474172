package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, r *Recorder, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestRecorder_Runs(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(ResultSuccess, 200*time.Millisecond)
	r.ObserveRun(ResultSuccess, 100*time.Millisecond)
	r.ObserveRun(ResultFailure, time.Second)

	runs := family(t, r, "upnet_apply_runs_total")
	require.NotNil(t, runs)
	counts := map[string]float64{}
	for _, m := range runs.GetMetric() {
		counts[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, counts[ResultSuccess])
	assert.Equal(t, 1.0, counts[ResultFailure])

	duration := family(t, r, "upnet_apply_duration_seconds")
	require.NotNil(t, duration)
	assert.Equal(t, uint64(3), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()
	r.AddPatches(2)
	r.AddPatches(0)
	r.AddChanges("add", 3)
	r.AddChanges("delete", 1)
	r.AddChanges("move", 0)

	patches := family(t, r, "upnet_patches_applied_total")
	require.NotNil(t, patches)
	assert.Equal(t, 2.0, patches.GetMetric()[0].GetCounter().GetValue())

	changes := family(t, r, "upnet_changes_committed_total")
	require.NotNil(t, changes)
	assert.Len(t, changes.GetMetric(), 2)
}

func TestRecorder_SetInstalled(t *testing.T) {
	r := NewRecorder()
	r.SetInstalled("1.0.0.0")
	r.SetInstalled("1.1.0.0")

	info := family(t, r, "upnet_installed_version_info")
	require.NotNil(t, info)
	require.Len(t, info.GetMetric(), 1)
	assert.Equal(t, "1.1.0.0", labelValue(info.GetMetric()[0], "version"))
	assert.Equal(t, 1.0, info.GetMetric()[0].GetGauge().GetValue())
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(ResultNoop, time.Millisecond)
	r.SetInstalled("2.0.0.0")

	path := filepath.Join(t.TempDir(), "upnet.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `upnet_apply_runs_total{result="noop"} 1`))
	assert.True(t, strings.Contains(text, `upnet_installed_version_info{version="2.0.0.0"} 1`))
}
