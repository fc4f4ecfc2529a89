// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/models"
)

// Metrics groups the matterflow collectors. A nil *Metrics records nothing.
type Metrics struct {
	validationErrors    *prometheus.CounterVec
	stepTransitions     *prometheus.CounterVec
	stallWarnings       *prometheus.CounterVec
	evaluationAnomalies prometheus.Counter
	instancesFinished   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		validationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matterflow_validation_errors_total",
				Help: "Template validation errors by kind",
			},
			[]string{"kind"},
		),
		stepTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matterflow_step_transitions_total",
				Help: "Step state transitions by target state",
			},
			[]string{"state"},
		),
		stallWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matterflow_stall_warnings_total",
				Help: "Non-fatal engine warnings by kind",
			},
			[]string{"kind"},
		),
		evaluationAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "matterflow_evaluation_anomalies_total",
				Help: "Conditions that referenced a field absent from the context",
			},
		),
		instancesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matterflow_instances_finished_total",
				Help: "Instances reaching a completed, stalled or cancelled status",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.validationErrors,
		m.stepTransitions,
		m.stallWarnings,
		m.evaluationAnomalies,
		m.instancesFinished,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) ObserveValidation(errs engine.ValidationErrors) {
	if m == nil {
		return
	}

	for _, e := range errs {
		m.validationErrors.WithLabelValues(string(e.Kind)).Inc()
	}
}

// ObserveStep counts one explicit transition (completion or skip by a caller).
func (m *Metrics) ObserveStep(state models.StepState) {
	if m == nil {
		return
	}

	m.stepTransitions.WithLabelValues(string(state)).Inc()
}

// ObserveResolution counts what the engine propagated. previous is the
// instance status before the operation.
func (m *Metrics) ObserveResolution(res engine.Resolution, previous models.InstanceStatus) {
	if m == nil {
		return
	}

	if n := len(res.Ready); n > 0 {
		m.stepTransitions.WithLabelValues(string(models.StepStateReady)).Add(float64(n))
	}

	if n := len(res.Skipped); n > 0 {
		m.stepTransitions.WithLabelValues(string(models.StepStateSkipped)).Add(float64(n))
	}

	for _, w := range res.Warnings {
		m.stallWarnings.WithLabelValues(string(w.Kind)).Inc()
	}

	m.evaluationAnomalies.Add(float64(len(res.Anomalies)))

	if res.Status != previous && res.Status != models.InstanceStatusRunning {
		m.instancesFinished.WithLabelValues(string(res.Status)).Inc()
	}
}
