package main

import (
	"errors"

	"github.com/metalagman/ampa/internal/logging"
	"github.com/spf13/cobra"
)

var (
	projectDir string
	debug      bool
	rootCmd    = &cobra.Command{
		Use:           "ampa",
		Short:         "ampa drives the worklog backlog by scheduling audits and agent delegations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

// Execute runs the root command and maps errors to process exit codes.
func Execute() int {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "project root (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(debug)
	}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(commandCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.err != nil {
				fatal(coded.err)
			}
			return coded.code
		}
		fatal(err)
		return 1
	}
	return 0
}
