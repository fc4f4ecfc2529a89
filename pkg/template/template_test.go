package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/models"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":    "John",
		"age":     30,
		"isNew":   true,
		"docket":  "CV-2026-118",
		"retains": []any{"tax", "estate"},
	}

	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"string field", "{{ .name }}", "John"},
		{"boolean", "{{ .isNew }}", true},
		{"numbers are floats", "{{ .age }}", 30.0},
		{"interpolation", "Docket {{ .docket }} for {{ .name }}", "Docket CV-2026-118 for John"},
		{"json array", `[{{ range $i, $r := .retains }}{{ if $i }},{{ end }}"{{ $r }}"{{ end }}]`, []any{"tax", "estate"}},
		{"default on empty", `{{ default "n/a" "" }}`, "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.input, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	data := map[string]any{"name": "John"}

	_, err := Render("{{ .name", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")

	_, err = Render("{{ .missing }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute template")

	_, err = Render(`{"broken": {{ .name }}}`, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")
}

func TestData(t *testing.T) {
	inst := &models.Instance{
		ID:        "inst-1",
		MatterID:  "matter-9",
		ContactID: "contact-3",
		Context:   map[string]any{"client_name": "Ada Lovelace"},
		Steps: map[string]*models.StepRecord{
			"intake": {State: models.StepStateCompleted, Outcome: map[string]any{"fee": 1200}},
			"review": {State: models.StepStateReady},
			"ghost":  nil,
		},
	}

	data := Data(inst)

	assert.Equal(t, "inst-1", data["instance_id"])
	assert.Equal(t, "matter-9", data["matter_id"])
	assert.Equal(t, "contact-3", data["contact_id"])
	assert.Equal(t, inst.Context, data["context"])

	steps, ok := data["steps"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, steps, 2)
	assert.Equal(t, map[string]any{"state": "COMPLETED", "outcome": map[string]any{"fee": 1200}}, steps["intake"])
	assert.Equal(t, map[string]any{"state": "READY"}, steps["review"])
}

func TestRenderConfig(t *testing.T) {
	inst := &models.Instance{
		ID:       "inst-1",
		MatterID: "matter-9",
		Context:  map[string]any{"client_name": "Ada Lovelace", "fee": 1500},
		Steps: map[string]*models.StepRecord{
			"intake": {State: models.StepStateCompleted, Outcome: "approved"},
		},
	}

	config := map[string]any{
		"memo":     "Retainer for {{ .context.client_name }}",
		"amount":   "{{ .context.fee }}",
		"currency": "USD",
		"signers":  []any{"{{ .context.client_name }}", "partner"},
		"details": map[string]any{
			"decision": "{{ .steps.intake.outcome }}",
			"matter":   "{{ .matter_id }}-letter",
		},
		"due_in_days": 5,
	}

	rendered, err := RenderConfig(config, Data(inst))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"memo":     "Retainer for Ada Lovelace",
		"amount":   1500.0,
		"currency": "USD",
		"signers":  []any{"Ada Lovelace", "partner"},
		"details": map[string]any{
			"decision": "approved",
			"matter":   "matter-9-letter",
		},
		"due_in_days": 5,
	}, rendered)

	assert.Equal(t, "Retainer for {{ .context.client_name }}", config["memo"], "input config must not change")
}

func TestRenderConfig_ReportsPath(t *testing.T) {
	config := map[string]any{
		"details": map[string]any{"note": "{{ .context.unknown }}"},
	}

	_, err := RenderConfig(config, Data(&models.Instance{Context: map[string]any{}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "details: note:")
}

func TestRenderConfig_Nil(t *testing.T) {
	rendered, err := RenderConfig(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, rendered)
}
