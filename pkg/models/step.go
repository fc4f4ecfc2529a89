package models

// ActionType identifies the kind of work a step represents. The engine never
// interprets it; only action handlers and config schemas do.
type ActionType string

const (
	ActionTypeChecklist       ActionType = "checklist"
	ActionTypeApproval        ActionType = "approval"
	ActionTypeSignature       ActionType = "signature"
	ActionTypeDocumentRequest ActionType = "document_request"
	ActionTypePayment         ActionType = "payment"
	ActionTypeFreeText        ActionType = "free_text"
	ActionTypeQuestionnaire   ActionType = "questionnaire"
	ActionTypeTask            ActionType = "task"
)

// ConditionType says whether a step's own eligibility is gated by a predicate.
type ConditionType string

const (
	ConditionTypeAlways  ConditionType = "ALWAYS"
	ConditionTypeIfTrue  ConditionType = "IF_TRUE"
	ConditionTypeIfFalse ConditionType = "IF_FALSE"
	ConditionTypeSwitch  ConditionType = "SWITCH"
)

// DependencyLogic combines the predecessors of a step.
type DependencyLogic string

const (
	DependencyLogicAll    DependencyLogic = "ALL"
	DependencyLogicAny    DependencyLogic = "ANY"
	DependencyLogicCustom DependencyLogic = "CUSTOM"
)

// Step is a unit of work in a template.
type Step struct {
	ID                  string          `json:"id"                              validate:"required"`
	Name                string          `json:"name"                            validate:"required,min=1"`
	Order               int             `json:"order"`
	ActionType          ActionType      `json:"action_type"                     validate:"required"`
	ActionConfig        map[string]any  `json:"action_config,omitempty"`
	Required            bool            `json:"required"`
	AssigneeRole        string          `json:"assignee_role,omitempty"`
	ConditionType       ConditionType   `json:"condition_type,omitempty"`
	ConditionConfig     *Condition      `json:"condition_config,omitempty"`
	Branches            []SwitchBranch  `json:"branches,omitempty"`
	DependencyLogic     DependencyLogic `json:"dependency_logic,omitempty"`
	CustomLogic         *Condition      `json:"custom_logic,omitempty"`
	ExpiresAfterSeconds int             `json:"expires_after_seconds,omitempty" validate:"min=0"`
}

// SwitchBranch is one labeled arm of a SWITCH step.
type SwitchBranch struct {
	Label        string     `json:"label"`
	Condition    *Condition `json:"condition,omitempty"`
	TargetStepID string     `json:"target_step_id"`
	Default      bool       `json:"default,omitempty"`
}

// EffectiveConditionType treats an empty condition type as ALWAYS.
func (s *Step) EffectiveConditionType() ConditionType {
	if s.ConditionType == "" {
		return ConditionTypeAlways
	}

	return s.ConditionType
}

// EffectiveDependencyLogic treats an empty dependency logic as ALL.
func (s *Step) EffectiveDependencyLogic() DependencyLogic {
	if s.DependencyLogic == "" {
		return DependencyLogicAll
	}

	return s.DependencyLogic
}

// DependencyType classifies a dependency edge.
type DependencyType string

const (
	DependencyTypeDependsOn     DependencyType = "DEPENDS_ON"
	DependencyTypeTriggers      DependencyType = "TRIGGERS"
	DependencyTypeIfTrueBranch  DependencyType = "IF_TRUE_BRANCH"
	DependencyTypeIfFalseBranch DependencyType = "IF_FALSE_BRANCH"
)

// IsBranch reports whether the edge carries IF_TRUE/IF_FALSE branch semantics.
func (t DependencyType) IsBranch() bool {
	return t == DependencyTypeIfTrueBranch || t == DependencyTypeIfFalseBranch
}

// Dependency is a directed predecessor relation: SourceStepID must settle
// before TargetStepID can become ready. DEPENDS_ON and TRIGGERS describe the
// same relation authored from opposite ends.
type Dependency struct {
	ID           string         `json:"id"`
	SourceStepID string         `json:"source_step_id" validate:"required"`
	TargetStepID string         `json:"target_step_id" validate:"required"`
	Type         DependencyType `json:"type"           validate:"required"`
}
