package engine

import (
	"fmt"
	"slices"

	"github.com/dukex/matterflow/pkg/models"
)

// Skip reasons recorded by the resolver.
const (
	SkipReasonConditionNotMet = "condition not met"
	SkipReasonUnreachable     = "unreachable"
	SkipReasonCancelled       = "cancelled"
	SkipReasonManual          = "skipped"
)

// Resolution is the outcome of one engine operation. Ready and Skipped list
// the steps that changed state during the operation, in step order.
type Resolution struct {
	Instance    *models.Instance      `json:"instance"`
	Ready       []string              `json:"ready"`
	Skipped     []string              `json:"skipped"`
	Unreachable []string              `json:"unreachable,omitempty"`
	Branches    []BranchSelection     `json:"branches,omitempty"`
	Warnings    []Warning             `json:"warnings,omitempty"`
	Anomalies   []Anomaly             `json:"anomalies,omitempty"`
	Status      models.InstanceStatus `json:"status"`
}

// Changed reports whether any step changed state.
func (r Resolution) Changed() bool {
	return len(r.Ready) > 0 || len(r.Skipped) > 0
}

type signal int

const (
	signalPending signal = iota
	signalCompleted
	signalSkipped
)

type verdict int

const (
	verdictWaiting verdict = iota
	verdictSatisfied
	verdictUnsatisfiable
)

// Recompute propagates readiness through inst without any new transition.
// Steps missing from inst are treated as PENDING. Calling it again on its own
// result changes nothing.
func (e *Engine) Recompute(inst *models.Instance) (Resolution, error) {
	snapshot, err := e.snapshot(inst)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Instance: snapshot}
	e.settle(&res)

	return res, nil
}

// settle runs resolution passes until nothing changes, then derives the
// unreachable set and the instance status.
func (e *Engine) settle(res *Resolution) {
	inst := res.Instance

	if inst.Status == models.InstanceStatusCancelled {
		res.Status = inst.Status

		return
	}

	for {
		e.resolve(res)

		res.Unreachable = e.unreachable(res)
		if !e.opts.skipUnreachable || len(res.Unreachable) == 0 {
			break
		}

		for _, id := range res.Unreachable {
			e.skip(res, id, SkipReasonUnreachable)
		}
	}

	if len(res.Unreachable) > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Kind:    WarningUnsatisfiableDependency,
			StepIDs: res.Unreachable,
			Message: fmt.Sprintf("%d pending step(s) can no longer become ready", len(res.Unreachable)),
		})
	}

	res.Status = e.status(res)
	inst.Status = res.Status
}

func (e *Engine) resolve(res *Resolution) {
	inst := res.Instance

	for changed := true; changed; {
		changed = false
		vars := e.scope(inst)

		for _, id := range e.graph.order {
			record := inst.Steps[id]
			if record.State != models.StepStatePending {
				continue
			}

			if e.dependencyVerdict(res, id, vars, nil) != verdictSatisfied {
				continue
			}

			if e.gate(res, e.graph.steps[id], vars) {
				record.State = models.StepStateReady
				res.Ready = append(res.Ready, id)
			} else {
				e.skip(res, id, SkipReasonConditionNotMet)
			}

			changed = true
			vars = e.scope(inst)
		}
	}
}

// gate evaluates the step's own condition. ALWAYS steps are never gated and
// SWITCH steps only when they carry a condition.
func (e *Engine) gate(res *Resolution, step *models.Step, vars map[string]any) bool {
	var negate bool

	switch step.EffectiveConditionType() {
	case models.ConditionTypeIfTrue:
	case models.ConditionTypeIfFalse:
		negate = true
	case models.ConditionTypeSwitch:
		if step.ConditionConfig == nil {
			return true
		}
	default:
		return true
	}

	result, missing := EvaluateTrace(step.ConditionConfig, vars)
	for _, field := range missing {
		res.addAnomaly(Anomaly{StepID: step.ID, Field: field})
	}

	return result != negate
}

func (e *Engine) skip(res *Resolution, stepID, reason string) {
	record := res.Instance.Steps[stepID]
	record.State = models.StepStateSkipped
	record.SkipReason = reason
	res.Skipped = append(res.Skipped, stepID)
}

// signalOf derives the predecessor signal a link delivers to its target.
// Steps in dead count as skipped.
func (e *Engine) signalOf(inst *models.Instance, l link, dead map[string]bool) signal {
	if dead[l.source] {
		return signalSkipped
	}

	record := inst.Steps[l.source]

	switch record.State {
	case models.StepStateSkipped:
		return signalSkipped
	case models.StepStateCompleted:
		if !l.kind.isBranch() {
			return signalCompleted
		}

		if slices.Contains(record.TakenBranches, l.target) {
			return signalCompleted
		}

		return signalSkipped
	default:
		return signalPending
	}
}

// dependencyVerdict applies the step's dependency logic to its incoming
// signals. When res is set, fields missing from a CUSTOM condition are
// reported once no predecessor is pending.
func (e *Engine) dependencyVerdict(res *Resolution, stepID string, vars map[string]any, dead map[string]bool) verdict {
	inst := res.Instance
	incoming := e.graph.incoming[stepID]
	if len(incoming) == 0 {
		return verdictSatisfied
	}

	var completed, skipped, pending int

	for _, l := range incoming {
		switch e.signalOf(inst, l, dead) {
		case signalCompleted:
			completed++
		case signalSkipped:
			skipped++
		default:
			pending++
		}
	}

	step := e.graph.steps[stepID]

	switch step.EffectiveDependencyLogic() {
	case models.DependencyLogicAny:
		switch {
		case completed > 0:
			return verdictSatisfied
		case pending == 0:
			return verdictUnsatisfiable
		}
	case models.DependencyLogicCustom:
		result, missing := EvaluateTrace(step.CustomLogic, vars)

		if pending == 0 && dead == nil {
			for _, field := range missing {
				res.addAnomaly(Anomaly{StepID: stepID, Field: field})
			}
		}

		switch {
		case result:
			return verdictSatisfied
		case pending == 0:
			return verdictUnsatisfiable
		}
	default:
		switch {
		case skipped > 0:
			return verdictUnsatisfiable
		case pending == 0:
			return verdictSatisfied
		}
	}

	return verdictWaiting
}

// unreachable returns the PENDING steps whose dependency logic can no longer
// be satisfied, treating other unreachable steps as skipped.
func (e *Engine) unreachable(res *Resolution) []string {
	inst := res.Instance
	dead := make(map[string]bool)
	vars := e.scope(inst)

	for grew := true; grew; {
		grew = false

		for _, id := range e.graph.order {
			if dead[id] || inst.Steps[id].State != models.StepStatePending {
				continue
			}

			if e.dependencyVerdict(res, id, vars, dead) == verdictUnsatisfiable {
				dead[id] = true
				grew = true
			}
		}
	}

	ids := make([]string, 0, len(dead))

	for _, id := range e.graph.order {
		if dead[id] {
			ids = append(ids, id)
		}
	}

	return ids
}

func (e *Engine) status(res *Resolution) models.InstanceStatus {
	inst := res.Instance

	var blocked []string

	for _, id := range e.graph.order {
		state := inst.Steps[id].State
		if state == models.StepStateReady {
			return models.InstanceStatusRunning
		}

		if state == models.StepStatePending && e.graph.steps[id].Required {
			blocked = append(blocked, id)
		}
	}

	if len(blocked) == 0 {
		return models.InstanceStatusCompleted
	}

	res.Warnings = append(res.Warnings, Warning{
		Kind:    WarningNoProgress,
		StepIDs: blocked,
		Message: fmt.Sprintf("no step is ready and %d required step(s) are still pending", len(blocked)),
	})

	return models.InstanceStatusStalled
}

func (r *Resolution) addAnomaly(a Anomaly) {
	if slices.Contains(r.Anomalies, a) {
		return
	}

	r.Anomalies = append(r.Anomalies, a)
}
