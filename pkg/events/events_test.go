package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/models"
)

func TestNew_DecodesEveryType(t *testing.T) {
	tests := []struct {
		event interface{ GetType() EventType }
	}{
		{TemplateActivated{}},
		{InstanceStarted{}},
		{InstanceStalled{}},
		{InstanceCompleted{}},
		{InstanceCancelled{}},
		{StepReady{}},
		{StepSkipped{}},
		{StepCompleted{}},
		{StepOutcomeReported{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.GetType()), func(t *testing.T) {
			target, ok := New(tt.event.GetType())
			require.True(t, ok)
			assert.Equal(t, tt.event.GetType(), target.(interface{ GetType() EventType }).GetType())
		})
	}

	_, ok := New("workflow.triggered")
	assert.False(t, ok)
}

func TestStepReady_Payload(t *testing.T) {
	event := StepReady{
		BaseEvent:    NewBaseEvent(StepReadyEvent, "tpl-1"),
		InstanceID:   "inst-1",
		StepID:       "S2",
		ActionType:   models.ActionTypePayment,
		ActionConfig: map[string]any{"amount": 1500},
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	assert.Contains(t, string(payload), `"type":"step.ready"`)
	assert.Contains(t, string(payload), `"template_id":"tpl-1"`)
	assert.Contains(t, string(payload), `"action_type":"payment"`)
	assert.NotContains(t, string(payload), "expires_at")
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}
