// Package main runs the sweeper that expires overdue READY steps.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/matterflow/pkg/cmd"
	"github.com/dukex/matterflow/pkg/config"
	"github.com/dukex/matterflow/pkg/expiry"
	"github.com/dukex/matterflow/pkg/log"
	"github.com/dukex/matterflow/pkg/services"
)

func main() {
	command := &cli.Command{
		Name:  "matterflow-sweeper",
		Usage: "Expire READY steps that outlived their deadline",
		Flags: []cli.Flag{
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
				Usage:   "Instance lock backend shared with the API (local or redis://...)",
				Value:   "local",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("MATTERFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule overriding the configured one",
				Sources: cli.EnvVars("SWEEPER_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
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

	logger := log.WithModule("sweeper")

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	schedule := cfg.Sweeper.Schedule
	if s := command.String("schedule"); s != "" {
		schedule = s
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

	instances := services.NewInstances(persistence,
		services.WithLogger(logger),
		services.WithPublisher(eventBus),
		services.WithLocker(lock),
		services.WithEngineOptions(cfg.EngineOptions()...),
	)

	sweeper, err := expiry.New(instances, schedule, logger)
	if err != nil {
		return err
	}

	if command.Bool("once") {
		expired, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Sweep finished", "expired", expired)

		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Sweeper started", "schedule", schedule)

	<-ctx.Done()

	logger.InfoContext(ctx, "Stopping sweeper")
	sweeper.Stop()

	return nil
}
