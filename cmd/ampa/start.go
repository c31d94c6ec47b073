package main

import (
	"fmt"
	"os"

	"github.com/metalagman/ampa/internal/daemon"
	"github.com/metalagman/ampa/internal/logging"
	"github.com/spf13/cobra"
)

func startCmd() *cobra.Command {
	var name string
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long:  "Start the scheduler daemon in the background. With --foreground the loop runs in this process, which is also how the background child runs itself.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sup := daemon.New(cfg, name)

			if foreground || cfg.RunScheduler {
				if err := os.MkdirAll(cfg.RunDir(sup.Name()), 0o755); err != nil {
					return fmt.Errorf("create daemon dir: %w", err)
				}
				sink, err := os.OpenFile(sup.LogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open daemon log: %w", err)
				}
				defer func() { _ = sink.Close() }()
				logging.InitDaemon(sink, debug)
				return sup.RunForeground(cmd.Context())
			}

			pid, err := sup.Start(debug)
			if err != nil {
				return err
			}
			fmt.Printf("daemon %s running (pid %d)\n", sup.Name(), pid)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", daemon.DefaultName, "daemon instance name")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run the scheduler loop in this process")
	return cmd
}
