package services

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/eventbus"
	"github.com/dukex/matterflow/pkg/locker"
	"github.com/dukex/matterflow/pkg/metrics"
	"github.com/dukex/matterflow/pkg/otelhelper"
)

// Option configures the Templates and Instances services.
type Option func(*dependencies)

type dependencies struct {
	logger     *slog.Logger
	publisher  eventbus.EventPublisher
	locker     locker.Locker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	checker    engine.ActionConfigChecker
	engineOpts []engine.Option
	now        func() time.Time
}

func newDependencies(opts []Option) dependencies {
	d := dependencies{
		logger: slog.Default(),
		tracer: otelhelper.NoopTracer(),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(&d)
	}

	if d.locker == nil {
		d.locker = locker.NewLocal()
	}

	return d
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *dependencies) { d.logger = logger }
}

// WithPublisher sets where lifecycle events go. Without one nothing is published.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(d *dependencies) { d.publisher = publisher }
}

// WithLocker sets the per-instance lock. The default is an in-process lock.
func WithLocker(l locker.Locker) Option {
	return func(d *dependencies) { d.locker = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *dependencies) { d.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *dependencies) { d.tracer = tracer }
}

// WithActionConfigChecker validates action_config payloads on activation.
func WithActionConfigChecker(checker engine.ActionConfigChecker) Option {
	return func(d *dependencies) { d.checker = checker }
}

// WithEngineOptions passes validation and resolution policy to the engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(d *dependencies) { d.engineOpts = append(d.engineOpts, opts...) }
}

// WithClock replaces the time source used to stamp step records.
func WithClock(now func() time.Time) Option {
	return func(d *dependencies) { d.now = now }
}
