package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/templatefile"
)

var errInvalidTemplate = errors.New("template is invalid")

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a template file for authoring errors",
		ArgsUsage: "<template.json|template.yaml>",
		Action: func(_ context.Context, command *cli.Command) error {
			path, err := templateArg(command)
			if err != nil {
				return err
			}

			template, err := templatefile.Load(path)
			if err != nil {
				return err
			}

			opts, err := engineOptions(command)
			if err != nil {
				return err
			}

			registry, err := actions.DefaultRegistry()
			if err != nil {
				return err
			}

			if !validateTemplate(command.Root().Writer, template, registry, opts...) {
				return errInvalidTemplate
			}

			return nil
		},
	}
}

// validateTemplate prints the validation report for template and reports
// whether it is valid.
func validateTemplate(w io.Writer, template *models.Template, checker engine.ActionConfigChecker, opts ...engine.Option) bool {
	opts = append(opts, engine.WithActionConfigChecker(checker))

	err := engine.Validate(template, opts...)
	if err == nil {
		fmt.Fprintf(w, "%s: valid (%d steps, %d dependencies)\n",
			template.Name, len(template.Steps), len(template.Dependencies))

		return true
	}

	errs, ok := engine.AsValidationErrors(err)
	if !ok {
		fmt.Fprintf(w, "%s: %v\n", template.Name, err)

		return false
	}

	fmt.Fprintf(w, "%s: %d problem(s)\n", template.Name, len(errs))

	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}

	return false
}
