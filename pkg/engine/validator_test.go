package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/models"
)

func step(id string, order int) *models.Step {
	return &models.Step{
		ID:         id,
		Name:       id,
		Order:      order,
		ActionType: models.ActionTypeTask,
		Required:   true,
	}
}

func dependsOn(source, target string) *models.Dependency {
	return &models.Dependency{
		ID:           source + "->" + target,
		SourceStepID: source,
		TargetStepID: target,
		Type:         models.DependencyTypeDependsOn,
	}
}

func edge(source, target string, kind models.DependencyType) *models.Dependency {
	return &models.Dependency{
		ID:           source + "->" + target,
		SourceStepID: source,
		TargetStepID: target,
		Type:         kind,
	}
}

func buildTemplate(steps []*models.Step, deps ...*models.Dependency) *models.Template {
	return &models.Template{
		ID:           "tpl-1",
		Name:         "Intake",
		Status:       models.TemplateStatusDraft,
		Steps:        steps,
		Dependencies: deps,
	}
}

func validationKinds(t *testing.T, err error) []ValidationErrorKind {
	t.Helper()

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTemplate))

	errs, ok := AsValidationErrors(err)
	require.True(t, ok)

	return errs.Kinds()
}

func TestValidate_ValidTemplate(t *testing.T) {
	s3 := step("S3", 3)
	s3.ConditionType = models.ConditionTypeIfTrue
	s3.ConditionConfig = models.Simple("amount", models.OperatorGreaterThan, 100)

	s4 := step("S4", 4)
	s4.DependencyLogic = models.DependencyLogicCustom
	s4.CustomLogic = models.Or(
		models.Simple("S2.outcome", models.OperatorEqual, "approved"),
		models.Simple("S3.state", models.OperatorEqual, "SKIPPED"),
	)

	tpl := buildTemplate(
		[]*models.Step{step("S1", 1), step("S2", 2), s3, s4},
		dependsOn("S1", "S2"),
		dependsOn("S1", "S3"),
		dependsOn("S2", "S4"),
		edge("S3", "S4", models.DependencyTypeTriggers),
	)

	assert.NoError(t, Validate(tpl))
}

func TestValidate_CycleDetected(t *testing.T) {
	tpl := buildTemplate(
		[]*models.Step{step("A", 1), step("B", 2)},
		dependsOn("A", "B"),
		dependsOn("B", "A"),
	)

	err := Validate(tpl)
	assert.Equal(t, []ValidationErrorKind{KindCycleDetected}, validationKinds(t, err))

	errs, _ := AsValidationErrors(err)
	require.Len(t, errs, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, errs[0].StepIDs)
}

func TestValidate_SelfLoopAndLongCycle(t *testing.T) {
	tpl := buildTemplate(
		[]*models.Step{step("A", 1), step("B", 2), step("C", 3), step("D", 4)},
		dependsOn("A", "A"),
		dependsOn("B", "C"),
		dependsOn("C", "D"),
		dependsOn("D", "B"),
	)

	errs, ok := AsValidationErrors(Validate(tpl))
	require.True(t, ok)
	require.Len(t, errs, 2)

	assert.Equal(t, []string{"A"}, errs[0].StepIDs)
	assert.ElementsMatch(t, []string{"B", "C", "D"}, errs[1].StepIDs)
}

func TestValidate_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *models.Template
		opts     []Option
		expected []ValidationErrorKind
	}{
		{
			name: "unknown step reference",
			build: func() *models.Template {
				return buildTemplate([]*models.Step{step("A", 1)}, dependsOn("A", "ghost"))
			},
			expected: []ValidationErrorKind{KindUnknownStepReference},
		},
		{
			name: "compound arity",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeIfTrue
				s.ConditionConfig = models.And(models.Simple("x", models.OperatorExists, nil))

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindCompoundArityViolation},
		},
		{
			name: "unknown operator",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeIfFalse
				s.ConditionConfig = models.Simple("x", models.Operator("like"), "y")

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindUnknownOperator},
		},
		{
			name: "missing condition config",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeIfTrue

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindMissingConditionConfig},
		},
		{
			name: "missing value",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeIfTrue
				s.ConditionConfig = models.Simple("x", models.OperatorEqual, nil)

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindInvalidConditionValue},
		},
		{
			name: "in requires array",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeIfTrue
				s.ConditionConfig = models.Simple("x", models.OperatorIn, "y")

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindInvalidConditionValue},
		},
		{
			name: "always with condition",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionConfig = models.Simple("x", models.OperatorExists, nil)

				return buildTemplate([]*models.Step{s})
			},
			expected: []ValidationErrorKind{KindUnexpectedConditionConfig},
		},
		{
			name: "duplicate and missing step ids",
			build: func() *models.Template {
				return buildTemplate([]*models.Step{step("A", 1), step("A", 2), step("", 3)})
			},
			expected: []ValidationErrorKind{KindDuplicateStepID, KindMissingStepID},
		},
		{
			name: "unknown enums",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionType("MAYBE")
				s.DependencyLogic = models.DependencyLogic("MOST")

				return buildTemplate([]*models.Step{s, step("B", 2)}, edge("A", "B", models.DependencyType("BLOCKS")))
			},
			expected: []ValidationErrorKind{KindUnknownConditionType, KindUnknownDependencyLogic, KindUnknownDependencyType},
		},
		{
			name: "switch with one branch",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeSwitch
				s.Branches = []models.SwitchBranch{{Label: "only", TargetStepID: "B", Default: true}}

				return buildTemplate([]*models.Step{s, step("B", 2)})
			},
			expected: []ValidationErrorKind{KindInvalidSwitchBranches},
		},
		{
			name: "switch duplicate target",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeSwitch
				s.Branches = []models.SwitchBranch{
					{Label: "one", TargetStepID: "B", Condition: models.Simple("x", models.OperatorEqual, 1)},
					{Label: "two", TargetStepID: "B", Condition: models.Simple("x", models.OperatorEqual, 2)},
				}

				return buildTemplate([]*models.Step{s, step("B", 2)})
			},
			expected: []ValidationErrorKind{KindDuplicateSwitchTarget},
		},
		{
			name: "switch unguarded branch and unknown target",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeSwitch
				s.Branches = []models.SwitchBranch{
					{Label: "one", TargetStepID: "B"},
					{Label: "two", TargetStepID: "ghost", Default: true},
				}

				return buildTemplate([]*models.Step{s, step("B", 2)})
			},
			expected: []ValidationErrorKind{KindMissingConditionConfig, KindUnknownStepReference},
		},
		{
			name: "switch default required",
			build: func() *models.Template {
				s := step("A", 1)
				s.ConditionType = models.ConditionTypeSwitch
				s.Branches = []models.SwitchBranch{
					{Label: "one", TargetStepID: "B", Condition: models.Simple("x", models.OperatorEqual, 1)},
					{Label: "two", TargetStepID: "C", Condition: models.Simple("x", models.OperatorEqual, 2)},
				}

				return buildTemplate([]*models.Step{s, step("B", 2), step("C", 3)})
			},
			opts:     []Option{WithRequireSwitchDefault(true)},
			expected: []ValidationErrorKind{KindMissingSwitchDefault},
		},
		{
			name: "custom references non predecessor",
			build: func() *models.Template {
				s := step("C", 3)
				s.DependencyLogic = models.DependencyLogicCustom
				s.CustomLogic = models.Or(
					models.Simple("A.outcome", models.OperatorEqual, true),
					models.Simple("B.outcome", models.OperatorEqual, true),
				)

				return buildTemplate([]*models.Step{step("A", 1), step("B", 2), s}, dependsOn("A", "C"))
			},
			expected: []ValidationErrorKind{KindInvalidCustomReference},
		},
		{
			name: "custom references plain context",
			build: func() *models.Template {
				s := step("B", 2)
				s.DependencyLogic = models.DependencyLogicCustom
				s.CustomLogic = models.Simple("amount", models.OperatorGreaterThan, 1)

				return buildTemplate([]*models.Step{step("A", 1), s}, dependsOn("A", "B"))
			},
			expected: []ValidationErrorKind{KindInvalidCustomReference},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validationKinds(t, Validate(tt.build(), tt.opts...)))
		})
	}
}

func TestValidate_NestingDepth(t *testing.T) {
	leaf := func() *models.Condition { return models.Simple("x", models.OperatorExists, nil) }

	depth3 := models.And(leaf(), models.Or(leaf(), models.And(leaf(), leaf())))
	depth4 := models.And(leaf(), models.Or(leaf(), models.And(leaf(), models.Or(leaf(), leaf()))))

	build := func(cond *models.Condition) *models.Template {
		s := step("S1", 1)
		s.ConditionType = models.ConditionTypeIfTrue
		s.ConditionConfig = cond

		return buildTemplate([]*models.Step{s})
	}

	assert.NoError(t, Validate(build(depth3)))

	errs, ok := AsValidationErrors(Validate(build(depth4)))
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, KindNestingDepthExceeded, errs[0].Kind)
	assert.Equal(t, "steps[S1].condition_config.conditions[1].conditions[1].conditions[1]", errs[0].Path)

	assert.NoError(t, Validate(build(depth4), WithMaxNestingDepth(4)))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	s := step("B", 2)
	s.ConditionType = models.ConditionTypeIfTrue

	tpl := buildTemplate(
		[]*models.Step{step("A", 1), s},
		dependsOn("A", "B"),
		dependsOn("B", "A"),
		dependsOn("A", "ghost"),
	)

	kinds := validationKinds(t, Validate(tpl))
	assert.ElementsMatch(t, []ValidationErrorKind{
		KindMissingConditionConfig,
		KindUnknownStepReference,
		KindCycleDetected,
	}, kinds)
}

type rejectPayments struct{}

func (rejectPayments) CheckActionConfig(actionType models.ActionType, _ map[string]any) error {
	if actionType == models.ActionTypePayment {
		return errors.New("amount is required")
	}

	return nil
}

func TestValidate_ActionConfigChecker(t *testing.T) {
	payment := step("P", 1)
	payment.ActionType = models.ActionTypePayment

	tpl := buildTemplate([]*models.Step{payment})

	assert.NoError(t, Validate(tpl))

	errs, ok := AsValidationErrors(Validate(tpl, WithActionConfigChecker(rejectPayments{})))
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, KindInvalidActionConfig, errs[0].Kind)
	assert.Equal(t, "steps[P].action_config", errs[0].Path)

	_, err := New(tpl, WithActionConfigChecker(rejectPayments{}))
	assert.NoError(t, err, "engine construction does not re-check action payloads")
}

func TestValidate_NilTemplate(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrInvalidTemplate)

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilTemplate)
}
