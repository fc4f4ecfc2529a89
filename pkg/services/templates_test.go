package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/events"
	"github.com/dukex/matterflow/pkg/metrics"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence"
)

func TestTemplates_CreateStartsDraftGroup(t *testing.T) {
	f := newFixture(t)

	created, err := f.templates.Create(context.Background(), linearTemplate())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, created.ID, created.TemplateGroupID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.TemplateStatusDraft, created.Status)

	for _, dep := range created.Dependencies {
		assert.NotEmpty(t, dep.ID)
	}
}

func TestTemplates_CreateRequiresName(t *testing.T) {
	f := newFixture(t)

	_, err := f.templates.Create(context.Background(), &models.Template{Name: "  "})
	require.ErrorIs(t, err, ErrTemplateNameRequired)
	assert.True(t, IsValidationError(err))

	_, err = f.templates.Create(context.Background(), nil)
	require.ErrorIs(t, err, ErrTemplateNil)
}

func TestTemplates_StepAndDependencyEditing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.templates.Create(ctx, linearTemplate())
	require.NoError(t, err)

	added, err := f.templates.AddStep(ctx, created.ID, &models.Step{Name: "archive", ActionType: models.ActionTypeTask})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, 4, added.Order)

	_, err = f.templates.AddStep(ctx, created.ID, taskStep("intake", 9))
	require.ErrorIs(t, err, ErrDuplicateStepID)

	dep, err := f.templates.AddDependency(ctx, created.ID, &models.Dependency{SourceStepID: "close", TargetStepID: added.ID})
	require.NoError(t, err)
	assert.Equal(t, models.DependencyTypeDependsOn, dep.Type)

	updated, err := f.templates.UpdateStep(ctx, created.ID, "review", &models.Step{Name: "Partner review", ActionType: models.ActionTypeApproval})
	require.NoError(t, err)
	assert.Equal(t, "review", updated.ID)

	_, err = f.templates.UpdateStep(ctx, created.ID, "missing", taskStep("missing", 1))
	require.ErrorIs(t, err, ErrStepNotFound)
	assert.True(t, IsNotFoundError(err))

	require.NoError(t, f.templates.RemoveStep(ctx, created.ID, "review"))

	stored, err := f.templates.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.StepByID("review"))

	for _, d := range stored.Dependencies {
		assert.NotEqual(t, "review", d.SourceStepID)
		assert.NotEqual(t, "review", d.TargetStepID)
	}

	require.NoError(t, f.templates.RemoveDependency(ctx, created.ID, dep.ID))
	require.ErrorIs(t, f.templates.RemoveDependency(ctx, created.ID, dep.ID), ErrDependencyNotFound)
}

func TestTemplates_ActiveTemplateIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	active := f.activeTemplate(t, linearTemplate())
	require.Equal(t, models.TemplateStatusActive, active.Status)
	require.NotNil(t, active.ActivatedAt)

	tests := []struct {
		name string
		call func() error
	}{
		{"update", func() error {
			_, err := f.templates.Update(ctx, active.ID, linearTemplate())
			return err
		}},
		{"add step", func() error {
			_, err := f.templates.AddStep(ctx, active.ID, taskStep("extra", 4))
			return err
		}},
		{"remove step", func() error { return f.templates.RemoveStep(ctx, active.ID, "intake") }},
		{"add dependency", func() error {
			_, err := f.templates.AddDependency(ctx, active.ID, dependency("intake", "close"))
			return err
		}},
		{"delete", func() error { return f.templates.Delete(ctx, active.ID) }},
		{"activate again", func() error {
			_, err := f.templates.Activate(ctx, active.ID)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.ErrorIs(t, err, ErrCannotModifyActive)
			assert.True(t, IsConflictError(err))
		})
	}
}

func TestTemplates_ActivateRejectsInvalidTemplate(t *testing.T) {
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	f := newFixture(t, WithMetrics(m))

	template := linearTemplate()
	template.Dependencies = append(template.Dependencies, dependency("close", "intake"))

	created, err := f.templates.Create(ctx, template)
	require.NoError(t, err)

	_, err = f.templates.Activate(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	errs, ok := engine.AsValidationErrors(err)
	require.True(t, ok)
	assert.Contains(t, errs.Kinds(), engine.KindCycleDetected)

	stored, err := f.templates.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusDraft, stored.Status)
	assert.Empty(t, f.publisher.types())

	count, err := testutil.GatherAndCount(reg, "matterflow_validation_errors_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestTemplates_ValidateReportsWithoutChanging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	template := linearTemplate()
	template.Dependencies = append(template.Dependencies, dependency("intake", "ghost"))

	created, err := f.templates.Create(ctx, template)
	require.NoError(t, err)

	errs, err := f.templates.Validate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []engine.ValidationErrorKind{engine.KindUnknownStepReference}, errs.Kinds())

	_, err = f.templates.Validate(ctx, "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestTemplates_ActivateChecksActionConfig(t *testing.T) {
	ctx := context.Background()

	registry, err := actions.DefaultRegistry()
	require.NoError(t, err)

	f := newFixture(t, WithActionConfigChecker(registry))

	template := linearTemplate()
	template.Steps[0].ActionConfig = map[string]any{"due_in_days": "tomorrow"}

	created, err := f.templates.Create(ctx, template)
	require.NoError(t, err)

	_, err = f.templates.Activate(ctx, created.ID)
	require.Error(t, err)

	errs, ok := engine.AsValidationErrors(err)
	require.True(t, ok)
	assert.Equal(t, []engine.ValidationErrorKind{engine.KindInvalidActionConfig}, errs.Kinds())
}

func TestTemplates_Versioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v1 := f.activeTemplate(t, linearTemplate())

	draft, err := f.templates.CreateDraftFromActive(ctx, v1.TemplateGroupID)
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, draft.ID)
	assert.Equal(t, v1.TemplateGroupID, draft.TemplateGroupID)
	assert.Equal(t, 2, draft.Version)
	assert.Equal(t, models.TemplateStatusDraft, draft.Status)
	assert.Len(t, draft.Steps, len(v1.Steps))

	again, err := f.templates.CreateDraftFromActive(ctx, v1.TemplateGroupID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, again.ID)

	_, err = f.templates.AddStep(ctx, draft.ID, taskStep("archive", 4))
	require.NoError(t, err)

	v2, err := f.templates.Activate(ctx, draft.ID)
	require.NoError(t, err)

	active, err := f.templates.GetActive(ctx, v1.TemplateGroupID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	retired, err := f.templates.FetchByID(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusInactive, retired.Status)

	_, err = f.templates.AddStep(ctx, v1.ID, taskStep("late", 5))
	require.ErrorIs(t, err, ErrCannotModifyInactive)

	versions, err := f.templates.GetVersions(ctx, v1.TemplateGroupID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)

	require.Equal(t, 2, f.publisher.count(events.TemplateActivatedEvent))

	last, ok := f.publisher.events[1].(events.TemplateActivated)
	require.True(t, ok)
	assert.Equal(t, v1.ID, last.PreviousID)
	assert.Equal(t, 2, last.Version)
}

func TestTemplates_CreateDraftWithoutActiveVersion(t *testing.T) {
	f := newFixture(t)

	_, err := f.templates.CreateDraftFromActive(context.Background(), "unknown-group")
	require.ErrorIs(t, err, persistence.ErrActiveTemplateNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestTemplates_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.activeTemplate(t, linearTemplate())

	_, err := f.templates.Create(ctx, linearTemplate())
	require.NoError(t, err)

	all, err := f.templates.List(ctx, ListTemplatesRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.TotalCount)

	active := models.TemplateStatusActive

	filtered, err := f.templates.List(ctx, ListTemplatesRequest{Status: &active})
	require.NoError(t, err)
	require.Len(t, filtered.Templates, 1)
	assert.Equal(t, models.TemplateStatusActive, filtered.Templates[0].Status)

	_, err = f.templates.List(ctx, ListTemplatesRequest{SortBy: "owner"})
	require.ErrorIs(t, err, ErrInvalidSortField)
	assert.True(t, IsValidationError(err))

	bogus := models.TemplateStatus("archived")
	_, err = f.templates.List(ctx, ListTemplatesRequest{Status: &bogus})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTemplates_HealthCheck(t *testing.T) {
	f := newFixture(t)

	message, ok := f.templates.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}
