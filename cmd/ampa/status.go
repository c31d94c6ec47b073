package main

import (
	"fmt"

	"github.com/metalagman/ampa/internal/daemon"
	"github.com/spf13/cobra"
)

// exitStopped is the status exit code for a stopped daemon.
const exitStopped = 3

func statusCmd() *cobra.Command {
	var name string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the scheduler daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sup := daemon.New(cfg, name)
			st, err := sup.Status()
			if err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(st); err != nil {
					return err
				}
			} else if st.Running {
				fmt.Printf("daemon %s running (pid %d)\n", sup.Name(), st.PID)
			} else {
				fmt.Printf("daemon %s stopped\n", sup.Name())
				if len(st.LogTail) > 0 {
					fmt.Printf("last log lines (%s):\n", sup.LogFile())
					for _, line := range st.LogTail {
						fmt.Printf("  %s\n", line)
					}
				}
			}

			if !st.Running {
				return exitWith(exitStopped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", daemon.DefaultName, "daemon instance name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON output")
	return cmd
}
