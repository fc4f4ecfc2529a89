// Package main provides the matterflow command line tool for checking and
// dry-running template files.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/matterflow/pkg/config"
	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/log"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                      "matterflow",
		Usage:                     "Validate and simulate matterflow templates",
		EnableShellCompletion:     true,
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("MATTERFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			validateCommand(),
			simulateCommand(),
		},
	}
}

// engineOptions reads the configuration named by the root --config flag.
func engineOptions(command *cli.Command) ([]engine.Option, error) {
	cfg, err := config.Load(command.Root().String("config"))
	if err != nil {
		return nil, err
	}

	return cfg.EngineOptions(), nil
}

// templateArg returns the single template path argument.
func templateArg(command *cli.Command) (string, error) {
	if command.Args().Len() != 1 {
		return "", fmt.Errorf("%s expects exactly one template file", command.Name)
	}

	return command.Args().First(), nil
}
