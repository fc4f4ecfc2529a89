package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/metrics"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence/file"
	"github.com/dukex/matterflow/pkg/services"
	"github.com/dukex/matterflow/pkg/web"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())

	registry, err := actions.DefaultRegistry()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	opts := []services.Option{
		services.WithActionConfigChecker(registry),
		services.WithMetrics(m),
	}

	handlers := web.NewAPIHandlers(
		services.NewTemplates(persistence, opts...),
		services.NewInstances(persistence, opts...),
		validator.New(validator.WithRequiredStructEnabled()),
		registry,
	)

	app := fiber.New()
	handlers.Routes(app)
	app.Get("/metrics", web.MetricsHandler(reg))

	return app
}

func call(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))

	return out
}

func intakeRequest() web.CreateTemplateRequest {
	return web.CreateTemplateRequest{
		Name:  "Client intake",
		Owner: "firm-1",
		Steps: []web.StepRequest{
			{ID: "S1", Name: "Collect documents", Order: 1, ActionType: models.ActionTypeDocumentRequest, Required: true},
			{
				ID: "S2", Name: "Large matter review", Order: 2, ActionType: models.ActionTypeApproval, Required: true,
				ConditionType:   models.ConditionTypeIfTrue,
				ConditionConfig: models.Simple("amount", models.OperatorGreaterThan, 100),
			},
			{ID: "S3", Name: "Engagement letter", Order: 3, ActionType: models.ActionTypeSignature, Required: true, DependencyLogic: models.DependencyLogicAny},
		},
		Dependencies: []web.DependencyRequest{
			{SourceStepID: "S1", TargetStepID: "S2"},
			{SourceStepID: "S1", TargetStepID: "S3"},
			{SourceStepID: "S2", TargetStepID: "S3"},
		},
	}
}

func createActive(t *testing.T, app *fiber.App) *models.Template {
	t.Helper()

	status, body := call(t, app, http.MethodPost, "/templates", intakeRequest())
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decode[models.Template](t, body)

	status, body = call(t, app, http.MethodPost, "/templates/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	activated := decode[models.Template](t, body)

	return &activated
}

func TestAPIHandlers_CreateTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		request        web.CreateTemplateRequest
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "successful creation",
			request:        intakeRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - name too short",
			request:        web.CreateTemplateRequest{Name: "In", Owner: "firm-1"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Name",
		},
		{
			name:           "validation error - missing owner",
			request:        web.CreateTemplateRequest{Name: "Client intake"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Owner",
		},
		{
			name: "validation error - unknown action type",
			request: web.CreateTemplateRequest{
				Name:  "Client intake",
				Owner: "firm-1",
				Steps: []web.StepRequest{{Name: "Fax", ActionType: "fax"}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "ActionType",
		},
		{
			name: "validation error - self dependency",
			request: web.CreateTemplateRequest{
				Name:         "Client intake",
				Owner:        "firm-1",
				Dependencies: []web.DependencyRequest{{SourceStepID: "S1", TargetStepID: "S1"}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "TargetStepID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := call(t, app, http.MethodPost, "/templates", tt.request)
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)

				return
			}

			created := decode[models.Template](t, body)
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, models.TemplateStatusDraft, created.Status)
			assert.Len(t, created.Steps, 3)
		})
	}
}

func TestAPIHandlers_TemplateLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := call(t, app, http.MethodPost, "/templates", web.CreateTemplateRequest{Name: "Signing", Owner: "firm-1"})
	require.Equal(t, http.StatusCreated, status)

	id := decode[models.Template](t, body).ID

	status, _ = call(t, app, http.MethodPost, "/templates/"+id+"/steps", web.StepRequest{ID: "A", Name: "Draft", ActionType: models.ActionTypeTask, Required: true})
	require.Equal(t, http.StatusCreated, status)

	status, _ = call(t, app, http.MethodPost, "/templates/"+id+"/steps", web.StepRequest{ID: "B", Name: "Sign", ActionType: models.ActionTypeSignature, Required: true})
	require.Equal(t, http.StatusCreated, status)

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/dependencies", web.DependencyRequest{SourceStepID: "A", TargetStepID: "B"})
	require.Equal(t, http.StatusCreated, status)

	depID := decode[models.Dependency](t, body).ID

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/dependencies", web.DependencyRequest{SourceStepID: "B", TargetStepID: "A"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, status)

	report := decode[web.ValidateTemplateResponse](t, body)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, string(engine.KindCycleDetected), report.Errors[0].Kind)

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/activate", nil)
	require.Equal(t, http.StatusBadRequest, status)

	problem := decode[map[string]any](t, body)
	assert.Equal(t, "invalid_template", problem["type"])
	assert.NotEmpty(t, problem["errors"])

	template := decode[models.Template](t, mustGet(t, app, "/templates/"+id))
	for _, dep := range template.Dependencies {
		if dep.ID != depID {
			status, _ = call(t, app, http.MethodDelete, "/templates/"+id+"/dependencies/"+dep.ID, nil)
			require.Equal(t, http.StatusNoContent, status)
		}
	}

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = call(t, app, http.MethodDelete, "/templates/"+id+"/steps/A", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "template_active", decode[map[string]any](t, body)["type"])

	status, body = call(t, app, http.MethodPost, "/templates/groups/"+id+"/create-draft", nil)
	require.Equal(t, http.StatusCreated, status)

	draft := decode[models.Template](t, body)
	assert.Equal(t, 2, draft.Version)

	status, body = call(t, app, http.MethodGet, "/templates/groups/"+id+"/versions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Template](t, body), 2)

	status, body = call(t, app, http.MethodGet, "/templates/groups/"+id+"/active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, decode[models.Template](t, body).ID)

	name := "Signing v2"
	status, body = call(t, app, http.MethodPatch, "/templates/"+draft.ID, web.UpdateTemplateRequest{Name: &name})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, name, decode[models.Template](t, body).Name)

	status, _ = call(t, app, http.MethodDelete, "/templates/"+draft.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func mustGet(t *testing.T, app *fiber.App, path string) []byte {
	t.Helper()

	status, body := call(t, app, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	return body
}

func TestAPIHandlers_InstanceLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	template := createActive(t, app)

	status, body := call(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		TemplateID: template.ID,
		MatterID:   "matter-1",
		Context:    map[string]any{"amount": 50},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	started := decode[engine.Resolution](t, body)
	assert.Equal(t, []string{"S1"}, started.Ready)

	id := started.Instance.ID

	status, body = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S1/complete", web.CompleteStepRequest{Outcome: "received"})
	require.Equal(t, http.StatusOK, status, string(body))

	res := decode[engine.Resolution](t, body)
	assert.Equal(t, []string{"S2"}, res.Skipped)
	assert.Equal(t, []string{"S3"}, res.Ready)

	status, body = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S1/complete", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "step_already_settled", decode[map[string]any](t, body)["type"])

	status, _ = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S9/complete", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = call(t, app, http.MethodPatch, "/instances/"+id+"/context", web.UpdateContextRequest{Context: map[string]any{"tier": "gold"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "gold", decode[models.Instance](t, body).Context["tier"])

	status, body = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S3/complete", web.CompleteStepRequest{Outcome: true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.InstanceStatusCompleted, decode[engine.Resolution](t, body).Status)

	status, body = call(t, app, http.MethodGet, "/instances?template_id="+template.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	status, _ = call(t, app, http.MethodGet, "/instances/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_SkipAndCancel(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	template := createActive(t, app)

	status, body := call(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{TemplateID: template.ID, MatterID: "matter-2"})
	require.Equal(t, http.StatusCreated, status)

	id := decode[engine.Resolution](t, body).Instance.ID

	status, body = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S2/skip", web.SkipStepRequest{Reason: "waived"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "waived", decode[engine.Resolution](t, body).Instance.Steps["S2"].SkipReason)

	status, body = call(t, app, http.MethodPost, "/instances/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.InstanceStatusCancelled, decode[engine.Resolution](t, body).Status)

	status, _ = call(t, app, http.MethodPost, "/instances/"+id+"/steps/S1/complete", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPIHandlers_StartRequiresActiveTemplate(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := call(t, app, http.MethodPost, "/templates", intakeRequest())
	require.Equal(t, http.StatusCreated, status)

	draft := decode[models.Template](t, body)

	status, body = call(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{TemplateID: draft.ID, MatterID: "m"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "template_not_active", decode[map[string]any](t, body)["type"])

	status, _ = call(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{MatterID: "m"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ActivateChecksActionConfig(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	req := web.CreateTemplateRequest{
		Name:  "Retainer",
		Owner: "firm-1",
		Steps: []web.StepRequest{{
			ID: "pay", Name: "Retainer", ActionType: models.ActionTypePayment, Required: true,
			ActionConfig: map[string]any{"amount": -5, "currency": "usd"},
		}},
	}

	status, body := call(t, app, http.MethodPost, "/templates", req)
	require.Equal(t, http.StatusCreated, status)

	id := decode[models.Template](t, body).ID

	status, body = call(t, app, http.MethodPost, "/templates/"+id+"/activate", nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), string(engine.KindInvalidActionConfig))
}

func TestAPIHandlers_ListTemplates(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	createActive(t, app)

	status, body := call(t, app, http.MethodGet, "/templates?status=active&limit=5", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[map[string]any](t, body)
	assert.InDelta(t, 1, list["total_count"], 0)

	status, _ = call(t, app, http.MethodGet, "/templates?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, app, http.MethodGet, "/templates?sort_by=owner", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ActionTypesHealthAndMetrics(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := call(t, app, http.MethodGet, "/action-types", nil)
	require.Equal(t, http.StatusOK, status)

	types := decode[[]web.ActionTypeResponse](t, body)
	assert.Len(t, types, 8)

	status, body = call(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])

	createActive(t, app)

	status, body = call(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "matterflow_")
}
