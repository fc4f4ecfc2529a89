package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/eventbus"
	"github.com/dukex/matterflow/pkg/events"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence/file"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetType())
	}

	return out
}

func (p *recordingPublisher) count(t events.EventType) int {
	n := 0

	for _, got := range p.types() {
		if got == t {
			n++
		}
	}

	return n
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func taskStep(id string, order int) *models.Step {
	return &models.Step{
		ID:         id,
		Name:       id,
		Order:      order,
		ActionType: models.ActionTypeTask,
		Required:   true,
	}
}

func dependency(source, target string) *models.Dependency {
	return &models.Dependency{
		SourceStepID: source,
		TargetStepID: target,
		Type:         models.DependencyTypeDependsOn,
	}
}

// linearTemplate is intake -> review -> close.
func linearTemplate() *models.Template {
	return &models.Template{
		Name:  "Client intake",
		Owner: "firm-1",
		Steps: []*models.Step{
			taskStep("intake", 1),
			taskStep("review", 2),
			taskStep("close", 3),
		},
		Dependencies: []*models.Dependency{
			dependency("intake", "review"),
			dependency("review", "close"),
		},
	}
}

type fixture struct {
	persistence *file.Persistence
	publisher   *recordingPublisher
	clock       *clock
	templates   *Templates
	instances   *Instances
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		persistence: file.NewPersistence(t.TempDir()),
		publisher:   &recordingPublisher{},
		clock:       newClock(),
	}

	opts = append([]Option{WithPublisher(f.publisher), WithClock(f.clock.Now)}, opts...)

	f.templates = NewTemplates(f.persistence, opts...)
	f.instances = NewInstances(f.persistence, opts...)

	return f
}

func (f *fixture) activeTemplate(t *testing.T, template *models.Template) *models.Template {
	t.Helper()

	ctx := context.Background()

	created, err := f.templates.Create(ctx, template)
	require.NoError(t, err)

	activated, err := f.templates.Activate(ctx, created.ID)
	require.NoError(t, err)

	return activated
}
