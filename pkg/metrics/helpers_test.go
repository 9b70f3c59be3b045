package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	return mfs
}

// seriesWith returns the series of family name whose labels include every
// pair in labels, or nil.
func seriesWith(mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return nil
	}
	for _, metric := range mf.GetMetric() {
		have := make(map[string]string, len(metric.GetLabel()))
		for _, pair := range metric.GetLabel() {
			have[pair.GetName()] = pair.GetValue()
		}
		matched := true
		for k, v := range labels {
			if have[k] != v {
				matched = false
				break
			}
		}
		if matched {
			return metric
		}
	}
	return nil
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
