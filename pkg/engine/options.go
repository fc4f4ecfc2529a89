package engine

import "github.com/dukex/matterflow/pkg/models"

// DefaultMaxNestingDepth bounds how many compound conditions may be nested.
const DefaultMaxNestingDepth = 3

// ActionConfigChecker validates the opaque action payload of a step. The
// engine only reports its verdict; it never reads the payload itself.
type ActionConfigChecker interface {
	CheckActionConfig(actionType models.ActionType, config map[string]any) error
}

// Option configures validation and resolution.
type Option func(*options)

type options struct {
	maxNestingDepth      int
	requireSwitchDefault bool
	skipUnreachable      bool
	actionChecker        ActionConfigChecker
}

func newOptions(opts []Option) options {
	o := options{
		maxNestingDepth: DefaultMaxNestingDepth,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.maxNestingDepth < 1 {
		o.maxNestingDepth = DefaultMaxNestingDepth
	}

	return o
}

// WithMaxNestingDepth overrides the compound nesting limit.
func WithMaxNestingDepth(depth int) Option {
	return func(o *options) {
		o.maxNestingDepth = depth
	}
}

// WithRequireSwitchDefault makes a SWITCH step without a default branch a
// validation error instead of a runtime stall.
func WithRequireSwitchDefault(require bool) Option {
	return func(o *options) {
		o.requireSwitchDefault = require
	}
}

// WithSkipUnreachable marks pending steps whose dependency logic can no longer
// be satisfied as SKIPPED instead of leaving them PENDING.
func WithSkipUnreachable(skip bool) Option {
	return func(o *options) {
		o.skipUnreachable = skip
	}
}

// WithActionConfigChecker validates action payloads during template validation.
func WithActionConfigChecker(checker ActionConfigChecker) Option {
	return func(o *options) {
		o.actionChecker = checker
	}
}
