package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/templatefile"
)

type simulationAction string

const (
	actionComplete simulationAction = "complete"
	actionSkip     simulationAction = "skip"
)

type simulationStep struct {
	action  simulationAction
	stepID  string
	outcome any
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Aliases:   []string{"sim"},
		Usage:     "Start an in-memory instance of a template and apply step outcomes",
		ArgsUsage: "<template.json|template.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "context",
				Usage: "JSON or YAML file with the instance context",
			},
			&cli.StringSliceFlag{
				Name:  "complete",
				Usage: "Complete a step, as STEP or STEP=OUTCOME; OUTCOME is read as JSON when it parses. Applied in order",
			},
			&cli.StringSliceFlag{
				Name:  "skip",
				Usage: "Skip a step after all completions are applied",
			},
			&cli.BoolFlag{
				Name:  "cancel",
				Usage: "Cancel the instance at the end",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the final instance as JSON",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path, err := templateArg(command)
			if err != nil {
				return err
			}

			template, err := templatefile.Load(path)
			if err != nil {
				return err
			}

			var vars map[string]any
			if contextPath := command.String("context"); contextPath != "" {
				if vars, err = templatefile.LoadContext(contextPath); err != nil {
					return err
				}
			}

			steps, err := parseSimulationSteps(command.StringSlice("complete"), command.StringSlice("skip"))
			if err != nil {
				return err
			}

			opts, err := engineOptions(command)
			if err != nil {
				return err
			}

			e, err := engine.New(template, opts...)
			if err != nil {
				return err
			}

			w := command.Root().Writer

			res, err := simulate(w, e, vars, steps)
			if err != nil {
				return err
			}

			if command.Bool("cancel") {
				if res, err = e.Cancel(res.Instance); err != nil {
					return err
				}

				printResolution(w, "cancel", res)
			}

			if command.Bool("json") {
				encoder := json.NewEncoder(w)
				encoder.SetIndent("", "  ")

				return encoder.Encode(res.Instance)
			}

			printSteps(w, e, res.Instance)

			return nil
		},
	}
}

// parseSimulationSteps turns the --complete and --skip values into an
// ordered list of transitions.
func parseSimulationSteps(completes, skips []string) ([]simulationStep, error) {
	steps := make([]simulationStep, 0, len(completes)+len(skips))

	for _, raw := range completes {
		stepID, value, hasOutcome := strings.Cut(raw, "=")

		stepID = strings.TrimSpace(stepID)
		if stepID == "" {
			return nil, fmt.Errorf("invalid --complete value %q", raw)
		}

		step := simulationStep{action: actionComplete, stepID: stepID}
		if hasOutcome {
			step.outcome = parseOutcome(value)
		}

		steps = append(steps, step)
	}

	for _, raw := range skips {
		stepID := strings.TrimSpace(raw)
		if stepID == "" {
			return nil, fmt.Errorf("invalid --skip value %q", raw)
		}

		steps = append(steps, simulationStep{action: actionSkip, stepID: stepID})
	}

	return steps, nil
}

// parseOutcome reads value as JSON, falling back to the raw string.
func parseOutcome(value string) any {
	var outcome any
	if err := json.Unmarshal([]byte(value), &outcome); err != nil {
		return value
	}

	return outcome
}

// simulate starts an instance with vars as its context and applies steps in
// order, printing every resolution to w.
func simulate(w io.Writer, e *engine.Engine, vars map[string]any, steps []simulationStep) (engine.Resolution, error) {
	inst := &models.Instance{
		ID:       "simulation",
		MatterID: "simulation",
		Context:  vars,
	}

	res, err := e.Start(inst)
	if err != nil {
		return engine.Resolution{}, err
	}

	printResolution(w, "start", res)

	for _, step := range steps {
		switch step.action {
		case actionComplete:
			res, err = e.Complete(res.Instance, step.stepID, step.outcome)
		case actionSkip:
			res, err = e.Skip(res.Instance, step.stepID, "")
		}

		if err != nil {
			return engine.Resolution{}, fmt.Errorf("%s %s: %w", step.action, step.stepID, err)
		}

		printResolution(w, string(step.action)+" "+step.stepID, res)
	}

	return res, nil
}

func printResolution(w io.Writer, label string, res engine.Resolution) {
	fmt.Fprintf(w, "%-20s status=%s ready=%v skipped=%v", label, res.Status, res.Ready, res.Skipped)

	if len(res.Unreachable) > 0 {
		fmt.Fprintf(w, " unreachable=%v", res.Unreachable)
	}

	fmt.Fprintln(w)

	for _, branch := range res.Branches {
		fmt.Fprintf(w, "  branch %s taken=%v not_taken=%v", branch.StepID, branch.Taken, branch.NotTaken)

		if branch.Label != "" {
			fmt.Fprintf(w, " label=%s", branch.Label)
		}

		fmt.Fprintln(w)
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  warning %s: %s\n", warning.Kind, warning.Message)
	}

	for _, anomaly := range res.Anomalies {
		fmt.Fprintf(w, "  anomaly %s: field %q is missing\n", anomaly.StepID, anomaly.Field)
	}
}

func printSteps(w io.Writer, e *engine.Engine, inst *models.Instance) {
	fmt.Fprintln(w)

	for _, id := range e.StepIDs() {
		record := inst.Steps[id]
		fmt.Fprintf(w, "%-20s %-10s", id, record.State)

		if record.Outcome != nil {
			fmt.Fprintf(w, " outcome=%v", record.Outcome)
		}

		if record.SkipReason != "" {
			fmt.Fprintf(w, " reason=%q", record.SkipReason)
		}

		fmt.Fprintln(w)
	}
}
