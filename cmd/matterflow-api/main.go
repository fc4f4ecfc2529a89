package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/cmd"
	"github.com/dukex/matterflow/pkg/config"
	"github.com/dukex/matterflow/pkg/eventbus"
	"github.com/dukex/matterflow/pkg/events"
	"github.com/dukex/matterflow/pkg/log"
	"github.com/dukex/matterflow/pkg/metrics"
	"github.com/dukex/matterflow/pkg/otelhelper"
	"github.com/dukex/matterflow/pkg/services"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "matterflow-api",
		Usage:                 "Manage templates and drive matter instances over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://path or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (memory, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Instance lock backend (local or redis://...)",
				Value:   "local",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("MATTERFLOW_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing matterflow API")

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), cfg.Events.Breaker, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	lock, err := cmd.NewLocker(ctx, logger, command.String("lock-url"))
	if err != nil {
		return err
	}

	registry, err := actions.DefaultRegistry()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	var tracer trace.Tracer = otelhelper.NoopTracer()
	if command.Bool("tracing") {
		if tracer, err = otelhelper.NewTracer(ctx, "matterflow-api"); err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithPublisher(eventBus),
		services.WithLocker(lock),
		services.WithMetrics(m),
		services.WithTracer(tracer),
		services.WithActionConfigChecker(registry),
		services.WithEngineOptions(cfg.EngineOptions()...),
	}

	templates := services.NewTemplates(persistence, opts...)
	instances := services.NewInstances(persistence, opts...)

	if err := subscribeOutcomes(ctx, eventBus, instances); err != nil {
		return err
	}

	return NewAPI(logger, templates, instances, registry, reg).Start(command.Int("port"))
}

// subscribeOutcomes completes steps from outcomes reported by action handlers.
func subscribeOutcomes(ctx context.Context, bus eventbus.EventSubscriber, instances *services.Instances) error {
	if err := bus.Handle(events.StepOutcomeReportedEvent, instances.HandleOutcomeReported); err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
