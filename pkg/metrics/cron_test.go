package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsCountsRunsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveDuration("overdue-sweep", 250*time.Millisecond)
	m.IncSuccess("overdue-sweep")
	m.IncFailure("overdue-sweep")
	m.IncSkipped("overdue-sweep")
	m.IncSkipped("overdue-sweep")
	m.IncSkipped("outbox-retention")

	mfs := gather(t, reg)
	for outcome, want := range map[string]float64{
		JobOutcomeSuccess: 1,
		JobOutcomeFailure: 1,
		JobOutcomeSkipped: 2,
	} {
		series := seriesWith(mfs, "library_job_runs_total", map[string]string{"job": "overdue-sweep", "outcome": outcome})
		require.NotNil(t, series, outcome)
		assert.Equal(t, want, series.GetCounter().GetValue(), outcome)
	}

	duration := seriesWith(mfs, "library_job_duration_seconds", map[string]string{"job": "overdue-sweep"})
	require.NotNil(t, duration)
	assert.InDelta(t, 0.25, duration.GetHistogram().GetSampleSum(), 1e-9)

	stamp := seriesWith(mfs, "library_job_last_success_timestamp_seconds", map[string]string{"job": "overdue-sweep"})
	require.NotNil(t, stamp)
	assert.Positive(t, stamp.GetGauge().GetValue())
	assert.Nil(t, seriesWith(mfs, "library_job_last_success_timestamp_seconds", map[string]string{"job": "outbox-retention"}))
}

func TestCronJobMetricsLabelsUnnamedJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCronJobMetrics(reg).IncFailure("")
	assert.NotNil(t, seriesWith(gather(t, reg), "library_job_runs_total", map[string]string{"job": "unknown"}))
}

func TestNilCronJobMetricsIsNoop(t *testing.T) {
	var m *CronJobMetrics
	assert.NotPanics(t, func() {
		m.ObserveDuration("x", time.Second)
		m.IncSuccess("x")
		m.IncFailure("x")
		m.IncSkipped("x")
		NewCronJobMetrics(nil).IncSuccess("")
	})
}
