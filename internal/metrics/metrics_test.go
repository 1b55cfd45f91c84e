package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// gather returns the value of every counter and gauge sample keyed by
// metric name and its first label value.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "/" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(reg)

	obs.ObserveDispatch("pool", 4096, 10*time.Millisecond, nil)
	obs.ObserveDispatch("pool", 100, time.Second, optimization.NewError(optimization.KindDispatchTimeout, "slow"))
	obs.ObserveFallback("opencl", "sequential")
	obs.ObserveFit("power", "grid", time.Second, nil)
	obs.ObserveFit("power", "grid", time.Second, errors.New("other"))
	obs.JobTransition("", "pending")
	obs.JobTransition("pending", "running")
	obs.Rejected()

	got := gather(t, reg)
	assert.Equal(t, 4096.0, got["gridfit_candidates_evaluated_total/pool"])
	assert.Equal(t, 1.0, got["gridfit_dispatch_duration_seconds/pool/success"])
	assert.Equal(t, 1.0, got["gridfit_dispatch_duration_seconds/pool/dispatch_timeout"])
	assert.Equal(t, 1.0, got["gridfit_fallbacks_total/opencl/sequential"])
	assert.Equal(t, 1.0, got["gridfit_fits_total/power/success"])
	assert.Equal(t, 1.0, got["gridfit_fits_total/power/error"])
	assert.Equal(t, 2.0, got["gridfit_fit_duration_seconds/power/grid"])
	assert.Equal(t, 0.0, got["gridfit_jobs/pending"])
	assert.Equal(t, 1.0, got["gridfit_jobs/running"])
	assert.Equal(t, 1.0, got["gridfit_submissions_rejected_total"])
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
