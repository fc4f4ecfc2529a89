package actions

import "github.com/dukex/matterflow/pkg/models"

type definition struct {
	actionType  models.ActionType
	name        string
	description string
	schema      map[string]any
}

func (d definition) Type() models.ActionType { return d.actionType }
func (d definition) Name() string            { return d.name }
func (d definition) Description() string     { return d.description }
func (d definition) Schema() map[string]any  { return d.schema }

func object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func builtins() []Definition {
	return []Definition{
		definition{
			actionType:  models.ActionTypeChecklist,
			name:        "Checklist",
			description: "A list of items the assignee ticks off.",
			schema: object(map[string]any{
				"items": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]any{"type": "string", "minLength": 1},
				},
			}, "items"),
		},
		definition{
			actionType:  models.ActionTypeApproval,
			name:        "Approval",
			description: "An approve or reject decision. The outcome drives IF_TRUE/IF_FALSE branches.",
			schema: object(map[string]any{
				"approver_role": map[string]any{"type": "string"},
				"instructions":  map[string]any{"type": "string"},
			}),
		},
		definition{
			actionType:  models.ActionTypeSignature,
			name:        "Signature",
			description: "Collects a signature on a document.",
			schema: object(map[string]any{
				"document_id": map[string]any{"type": "string", "minLength": 1},
				"signers": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]any{"type": "string"},
				},
			}, "document_id"),
		},
		definition{
			actionType:  models.ActionTypeDocumentRequest,
			name:        "Document request",
			description: "Asks the client to upload one or more documents.",
			schema: object(map[string]any{
				"documents": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]any{"type": "string"},
				},
				"instructions": map[string]any{"type": "string"},
			}, "documents"),
		},
		definition{
			actionType:  models.ActionTypePayment,
			name:        "Payment",
			description: "Requests a payment from the client.",
			schema: object(map[string]any{
				"amount":   map[string]any{"type": "number", "minimum": 0.01},
				"currency": map[string]any{"type": "string", "pattern": "^[A-Z]{3}$"},
				"memo":     map[string]any{"type": "string"},
			}, "amount"),
		},
		definition{
			actionType:  models.ActionTypeFreeText,
			name:        "Free text",
			description: "A free form answer.",
			schema: object(map[string]any{
				"prompt":     map[string]any{"type": "string"},
				"max_length": map[string]any{"type": "integer", "minimum": 1},
			}),
		},
		definition{
			actionType:  models.ActionTypeQuestionnaire,
			name:        "Questionnaire",
			description: "A form whose answers become the step outcome.",
			schema: object(map[string]any{
				"questions": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": object(map[string]any{
						"key":   map[string]any{"type": "string", "minLength": 1},
						"label": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []string{"text", "number", "boolean", "choice", "date"},
						},
					}, "key"),
				},
			}, "questions"),
		},
		definition{
			actionType:  models.ActionTypeTask,
			name:        "Task",
			description: "A generic task for staff.",
			schema: object(map[string]any{
				"instructions": map[string]any{"type": "string"},
				"due_in_days":  map[string]any{"type": "integer", "minimum": 0},
			}),
		},
	}
}
