package main

import (
	"fmt"
	"time"

	"github.com/metalagman/ampa/internal/daemon"
	"github.com/metalagman/ampa/internal/store"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var asJSON bool
	var format string
	var watchSecs int
	cmd := &cobra.Command{
		Use:   "run <command_id>",
		Short: "Force-run a scheduled command in the foreground",
		Long:  "Force-run a scheduled command once, bypassing its cooldown. The in-flight exclusion still applies and last_run_at is left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sched, _, err := daemon.New(cfg, daemon.DefaultName).Build()
			if err != nil {
				return err
			}

			if watchSecs > 0 {
				stopWatch := watch(args[0], time.Duration(watchSecs)*time.Second)
				defer stopWatch()
			}

			run, err := sched.ForceRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				format = "json"
			}
			switch format {
			case "json":
				if err := printJSON(run); err != nil {
					return err
				}
			default:
				printRun(run)
			}
			if run.ExitCode != 0 {
				return exitWith(run.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON output (same as --format json)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().IntVar(&watchSecs, "watch", 0, "print a heartbeat every N seconds while the command runs")
	cmd.Flags().Lookup("watch").NoOptDefVal = "2"
	return cmd
}

// watch prints elapsed-time heartbeats until the returned stop func runs, so
// long audits show progress on an operator's terminal.
func watch(commandID string, every time.Duration) func() {
	done := make(chan struct{})
	go func() {
		started := time.Now()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Printf("%s still running (%s elapsed)\n", commandID, time.Since(started).Round(time.Second))
			}
		}
	}()
	return func() { close(done) }
}

func printRun(run store.CommandRun) {
	fmt.Printf("command:  %s\n", run.CommandID)
	fmt.Printf("exit:     %d\n", run.ExitCode)
	fmt.Printf("started:  %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Printf("finished: %s\n", run.FinishedAt.Format(time.RFC3339))
	if run.Note != "" {
		fmt.Printf("note:     %s\n", run.Note)
	}
	if run.StderrExcerpt != "" {
		fmt.Printf("stderr:\n%s\n", run.StderrExcerpt)
	}
}
