package engine

import (
	"sort"

	"github.com/dukex/matterflow/pkg/models"
)

// linkKind says how a predecessor signal is derived from the source step.
type linkKind int

const (
	linkPlain   linkKind = iota // DEPENDS_ON / TRIGGERS
	linkIfTrue                  // IF_TRUE_BRANCH edge
	linkIfFalse                 // IF_FALSE_BRANCH edge
	linkSwitch                  // SWITCH branch target
	linkEither                  // IF_TRUE_BRANCH and IF_FALSE_BRANCH on the same pair
)

// priority decides which link survives when one source reaches the same
// target more than once. Branch semantics win over a plain edge.
func (k linkKind) priority() int {
	switch k {
	case linkSwitch:
		return 2
	case linkIfTrue, linkIfFalse, linkEither:
		return 1
	default:
		return 0
	}
}

// isBranch reports whether the link only fires when its target was taken.
// An either link fires for both decisions, so it behaves like a plain edge.
func (k linkKind) isBranch() bool {
	return k != linkPlain && k != linkEither
}

// merge combines opposite if-branch edges between the same pair of steps.
func (k linkKind) merge(other linkKind) (linkKind, bool) {
	ifKind := func(k linkKind) bool {
		return k == linkIfTrue || k == linkIfFalse || k == linkEither
	}

	if ifKind(k) && ifKind(other) && (k != other || k == linkEither) {
		return linkEither, true
	}

	return k, false
}

type link struct {
	source string
	target string
	kind   linkKind
}

// graph is an index over the flat step and dependency lists of a template.
// Steps reference each other by id only.
type graph struct {
	steps    map[string]*models.Step
	order    []string
	incoming map[string][]link
	outgoing map[string][]link
}

func buildGraph(t *models.Template) *graph {
	g := &graph{
		steps:    make(map[string]*models.Step, len(t.Steps)),
		order:    make([]string, 0, len(t.Steps)),
		incoming: make(map[string][]link),
		outgoing: make(map[string][]link),
	}

	for _, step := range t.Steps {
		if step == nil || step.ID == "" {
			continue
		}

		if _, dup := g.steps[step.ID]; dup {
			continue
		}

		g.steps[step.ID] = step
		g.order = append(g.order, step.ID)
	}

	sort.SliceStable(g.order, func(i, j int) bool {
		a, b := g.steps[g.order[i]], g.steps[g.order[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}

		return a.ID < b.ID
	})

	type pair struct{ source, target string }

	links := make(map[pair]link)
	keys := make([]pair, 0, len(t.Dependencies))

	add := func(l link) {
		if _, ok := g.steps[l.source]; !ok {
			return
		}

		if _, ok := g.steps[l.target]; !ok {
			return
		}

		key := pair{l.source, l.target}

		existing, seen := links[key]
		if !seen {
			keys = append(keys, key)
			links[key] = l

			return
		}

		if merged, ok := existing.kind.merge(l.kind); ok {
			existing.kind = merged
			links[key] = existing

			return
		}

		if l.kind.priority() > existing.kind.priority() {
			links[key] = l
		}
	}

	for _, dep := range t.Dependencies {
		if dep == nil {
			continue
		}

		kind := linkPlain

		switch dep.Type {
		case models.DependencyTypeIfTrueBranch:
			kind = linkIfTrue
		case models.DependencyTypeIfFalseBranch:
			kind = linkIfFalse
		}

		add(link{source: dep.SourceStepID, target: dep.TargetStepID, kind: kind})
	}

	for _, id := range g.order {
		step := g.steps[id]
		if step.EffectiveConditionType() != models.ConditionTypeSwitch {
			continue
		}

		for _, branch := range step.Branches {
			add(link{source: id, target: branch.TargetStepID, kind: linkSwitch})
		}
	}

	for _, key := range keys {
		l := links[key]
		g.incoming[l.target] = append(g.incoming[l.target], l)
		g.outgoing[l.source] = append(g.outgoing[l.source], l)
	}

	return g
}

// predecessors returns the distinct source ids of a step's incoming links.
func (g *graph) predecessors(stepID string) []string {
	incoming := g.incoming[stepID]
	ids := make([]string, 0, len(incoming))

	for _, l := range incoming {
		ids = append(ids, l.source)
	}

	return ids
}

func (g *graph) hasBranchLinks(stepID string) bool {
	for _, l := range g.outgoing[stepID] {
		if l.kind.isBranch() {
			return true
		}
	}

	return false
}
