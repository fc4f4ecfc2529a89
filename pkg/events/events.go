// Package events defines the notifications published as templates are
// activated and instances move forward.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/matterflow/pkg/models"
)

type EventType string

// Topic carries every matterflow event; the event type travels in metadata.
const Topic = "matterflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Template lifecycle.
	TemplateActivatedEvent EventType = "template.activated"

	// Instance lifecycle.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceStalledEvent   EventType = "instance.stalled"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	// Step transitions.
	StepReadyEvent     EventType = "step.ready"
	StepSkippedEvent   EventType = "step.skipped"
	StepCompletedEvent EventType = "step.completed"

	// Reported by action handlers.
	StepOutcomeReportedEvent EventType = "step.outcome.reported"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TemplateID string         `json:"template_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, templateID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TemplateID: templateID,
	}
}

type TemplateActivated struct {
	BaseEvent

	TemplateGroupID string `json:"template_group_id"`
	Version         int    `json:"version"`
	PreviousID      string `json:"previous_id,omitempty"`
}

func (e TemplateActivated) GetType() EventType {
	return TemplateActivatedEvent
}

type InstanceStarted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	MatterID   string `json:"matter_id,omitempty"`
	ContactID  string `json:"contact_id,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

// StepReady asks the action handler of ActionType to perform the step.
type StepReady struct {
	BaseEvent

	InstanceID   string            `json:"instance_id"`
	StepID       string            `json:"step_id"`
	StepName     string            `json:"step_name"`
	ActionType   models.ActionType `json:"action_type"`
	ActionConfig map[string]any    `json:"action_config,omitempty"`
	AssigneeRole string            `json:"assignee_role,omitempty"`
	MatterID     string            `json:"matter_id,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

func (e StepReady) GetType() EventType {
	return StepReadyEvent
}

type StepSkipped struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	Reason     string `json:"reason"`
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type StepCompleted struct {
	BaseEvent

	InstanceID    string   `json:"instance_id"`
	StepID        string   `json:"step_id"`
	Outcome       any      `json:"outcome,omitempty"`
	TakenBranches []string `json:"taken_branches,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

// InstanceStalled reports that nothing is READY while required steps remain.
type InstanceStalled struct {
	BaseEvent

	InstanceID string   `json:"instance_id"`
	Reason     string   `json:"reason"`
	StepIDs    []string `json:"step_ids,omitempty"`
}

func (e InstanceStalled) GetType() EventType {
	return InstanceStalledEvent
}

type InstanceCompleted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	MatterID   string `json:"matter_id,omitempty"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceCancelled struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// StepOutcomeReported is sent by an action handler once the work behind a
// READY step is done.
type StepOutcomeReported struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	Outcome    any    `json:"outcome,omitempty"`
}

func (e StepOutcomeReported) GetType() EventType {
	return StepOutcomeReportedEvent
}

// New returns an empty event value for t, ready to be decoded into.
func New(t EventType) (any, bool) {
	switch t {
	case TemplateActivatedEvent:
		return &TemplateActivated{}, true
	case InstanceStartedEvent:
		return &InstanceStarted{}, true
	case InstanceStalledEvent:
		return &InstanceStalled{}, true
	case InstanceCompletedEvent:
		return &InstanceCompleted{}, true
	case InstanceCancelledEvent:
		return &InstanceCancelled{}, true
	case StepReadyEvent:
		return &StepReady{}, true
	case StepSkippedEvent:
		return &StepSkipped{}, true
	case StepCompletedEvent:
		return &StepCompleted{}, true
	case StepOutcomeReportedEvent:
		return &StepOutcomeReported{}, true
	default:
		return nil, false
	}
}
