// Package engine implements the template dependency and conditional
// execution rules: template validation, condition evaluation, branch
// selection and readiness propagation.
//
// The engine is pure. Every operation takes an instance snapshot and
// returns a new one; callers own persistence and must serialize writes to
// a single instance.
package engine

import (
	"fmt"

	"github.com/mohae/deepcopy"

	"github.com/dukex/matterflow/pkg/models"
)

// Engine evaluates instances of a single template.
type Engine struct {
	template *models.Template
	graph    *graph
	opts     options
}

// New indexes t for resolution. The template must pass structural
// validation; action payloads are not re-checked here so that instances of
// an already active version keep working when action schemas evolve.
func New(t *models.Template, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, ErrNilTemplate
	}

	o := newOptions(opts)

	structural := o
	structural.actionChecker = nil

	if err := validate(t, structural); err != nil {
		return nil, err
	}

	template, ok := deepcopy.Copy(t).(*models.Template)
	if !ok {
		return nil, fmt.Errorf("copy template %s", t.ID)
	}

	return &Engine{
		template: template,
		graph:    buildGraph(template),
		opts:     o,
	}, nil
}

// Template returns the engine's copy of the template.
func (e *Engine) Template() *models.Template {
	return e.template
}

// StepIDs returns the step ids ordered by Order, then id.
func (e *Engine) StepIDs() []string {
	return append([]string(nil), e.graph.order...)
}

// Step returns the step with the given id.
func (e *Engine) Step(stepID string) (*models.Step, bool) {
	step, ok := e.graph.steps[stepID]

	return step, ok
}

// Predecessors returns the ids of the steps stepID waits on, including
// SWITCH sources that target it.
func (e *Engine) Predecessors(stepID string) []string {
	return e.graph.predecessors(stepID)
}
