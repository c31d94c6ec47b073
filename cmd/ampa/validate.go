package main

import (
	"fmt"

	"github.com/metalagman/ampa/internal/workflow"
	"github.com/spf13/cobra"
)

// Validate exit codes: 1 for findings at error severity, 2 when the file
// cannot be read at all.
const (
	exitValidationFailed = 1
	exitUnreadable       = 2
)

func validateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a workflow descriptor",
		Long:  "Validate a workflow descriptor against the schema, state-machine, invariant, role, and delegation rule checks. Without an argument the project's configured descriptor is validated.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.DescriptorPath
			}

			_, result, err := workflow.ValidateFile(path)
			if err != nil {
				return &exitError{code: exitUnreadable, err: err}
			}

			if asJSON {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				for _, f := range result.Findings {
					fmt.Println(f.String())
				}
				if result.OK() {
					fmt.Printf("%s: ok (%d warning(s))\n", path, len(result.Warnings()))
				}
			}

			if !result.OK() {
				return exitWith(exitValidationFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON output")
	return cmd
}
