package models

import "time"

// StepState is the readiness state of a step inside an instance. States only
// move forward: PENDING -> READY -> COMPLETED, or PENDING/READY -> SKIPPED.
type StepState string

const (
	StepStatePending   StepState = "PENDING"
	StepStateReady     StepState = "READY"
	StepStateCompleted StepState = "COMPLETED"
	StepStateSkipped   StepState = "SKIPPED"
)

// IsTerminal reports whether the state can no longer change.
func (s StepState) IsTerminal() bool {
	return s == StepStateCompleted || s == StepStateSkipped
}

// InstanceStatus is the aggregate status of an instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusStalled   InstanceStatus = "stalled"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Instance is one execution of a template against a matter.
type Instance struct {
	ID         string                 `json:"id"`
	TemplateID string                 `json:"template_id"`
	MatterID   string                 `json:"matter_id,omitempty"`
	ContactID  string                 `json:"contact_id,omitempty"`
	Status     InstanceStatus         `json:"status"`
	Steps      map[string]*StepRecord `json:"steps"`
	Context    map[string]any         `json:"context"`
	Revision   int64                  `json:"revision"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// StepRecord holds the runtime state of one step.
type StepRecord struct {
	State            StepState  `json:"state"`
	Outcome          any        `json:"outcome,omitempty"`
	BranchesSelected bool       `json:"branches_selected,omitempty"`
	TakenBranches    []string   `json:"taken_branches,omitempty"`
	SkipReason       string     `json:"skip_reason,omitempty"`
	ReadyAt          *time.Time `json:"ready_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// State returns the state of a step, PENDING when it has no record yet.
func (i *Instance) State(stepID string) StepState {
	if record, ok := i.Steps[stepID]; ok && record != nil {
		return record.State
	}

	return StepStatePending
}

// IsFinished reports whether the instance no longer accepts step transitions.
func (i *Instance) IsFinished() bool {
	return i.Status == InstanceStatusCompleted || i.Status == InstanceStatusCancelled
}
