// Package template renders the text/template expressions found in step
// action configs against the instance the step runs in.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/matterflow/pkg/models"
)

// Data is the value action config templates execute against:
//
//	.instance_id .matter_id .contact_id
//	.context.<key>
//	.steps.<stepId>.state .steps.<stepId>.outcome
func Data(inst *models.Instance) map[string]any {
	steps := make(map[string]any, len(inst.Steps))

	for id, record := range inst.Steps {
		if record == nil {
			continue
		}

		step := map[string]any{"state": string(record.State)}
		if record.Outcome != nil {
			step["outcome"] = record.Outcome
		}

		steps[id] = step
	}

	return map[string]any{
		"instance_id": inst.ID,
		"matter_id":   inst.MatterID,
		"contact_id":  inst.ContactID,
		"context":     inst.Context,
		"steps":       steps,
	}
}

// NeedsTemplating reports whether s holds a template action.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderConfig returns a copy of config with every templated string,
// including those nested in objects and arrays, rendered against data.
// config itself is not modified.
func RenderConfig(config map[string]any, data any) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}

	rendered, err := renderValue(config, data)
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)

	return out, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// Render executes templateStr against data. Results that read as a JSON
// object or array, a number or a boolean are returned typed; anything else
// is returned as a string. Missing map keys are errors.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("action_config").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
