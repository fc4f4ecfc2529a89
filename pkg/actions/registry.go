// Package actions holds the configuration schemas of the step action types.
// The engine treats action_config as opaque; templates are checked against
// these schemas when they are activated.
package actions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/matterflow/pkg/models"
)

var ErrUnknownActionType = errors.New("action type not registered")

// Definition describes one action type and its configuration schema.
type Definition interface {
	Type() models.ActionType
	Name() string
	Description() string
	Schema() map[string]any
}

// Registry compiles and caches the schema of every registered action type.
type Registry struct {
	mu          sync.RWMutex
	definitions map[models.ActionType]Definition
	schemas     map[models.ActionType]*gojsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[models.ActionType]Definition),
		schemas:     make(map[models.ActionType]*gojsonschema.Schema),
	}
}

// DefaultRegistry returns a registry with every built-in action type.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	for _, d := range builtins() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(d Definition) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for action type '%s': %w", d.Type(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.definitions[d.Type()] = d
	r.schemas[d.Type()] = schema

	return nil
}

// Definitions returns the registered action types sorted by type.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d)
	}

	slices.SortFunc(out, func(a, b Definition) int {
		return strings.Compare(string(a.Type()), string(b.Type()))
	})

	return out
}

// CheckActionConfig validates config against the schema of actionType. A nil
// config is checked as an empty object.
func (r *Registry) CheckActionConfig(actionType models.ActionType, config map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[actionType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownActionType, actionType)
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(problems, "; "))
	}

	return nil
}
