package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/metrics"
	"github.com/dukex/matterflow/pkg/models"
)

func TestMetrics_ObserveResolution(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.ObserveStep(models.StepStateCompleted)
	m.ObserveResolution(engine.Resolution{
		Ready:     []string{"S2"},
		Skipped:   []string{"S3", "S4"},
		Warnings:  []engine.Warning{{Kind: engine.WarningNoProgress}},
		Anomalies: []engine.Anomaly{{StepID: "S3", Field: "amount"}},
		Status:    models.InstanceStatusStalled,
	}, models.InstanceStatusRunning)

	count, err := testutil.GatherAndCount(reg, "matterflow_step_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	count, err = testutil.GatherAndCount(reg, "matterflow_instances_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "/" + label.GetValue()
			}

			values[key] = metric.GetCounter().GetValue()
		}
	}

	assert.InDelta(t, 2.0, values["matterflow_step_transitions_total/SKIPPED"], 0)
	assert.InDelta(t, 1.0, values["matterflow_step_transitions_total/READY"], 0)
	assert.InDelta(t, 1.0, values["matterflow_stall_warnings_total/no_progress"], 0)
	assert.InDelta(t, 1.0, values["matterflow_evaluation_anomalies_total"], 0)
	assert.InDelta(t, 1.0, values["matterflow_instances_finished_total/stalled"], 0)
}

func TestMetrics_ObserveValidation(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.ObserveValidation(engine.ValidationErrors{
		{Kind: engine.KindCycleDetected},
		{Kind: engine.KindCycleDetected},
		{Kind: engine.KindUnknownOperator},
	})

	count, err := testutil.GatherAndCount(reg, "matterflow_validation_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = metrics.New(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveStep(models.StepStateCompleted)
		m.ObserveValidation(engine.ValidationErrors{{Kind: engine.KindCycleDetected}})
		m.ObserveResolution(engine.Resolution{Ready: []string{"S1"}}, models.InstanceStatusRunning)
	})
}
