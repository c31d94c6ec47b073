package main

import (
	"github.com/metalagman/ampa/internal/daemon"
	"github.com/spf13/cobra"
)

func stopCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the scheduler daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return daemon.New(cfg, name).Stop()
		},
	}
	cmd.Flags().StringVar(&name, "name", daemon.DefaultName, "daemon instance name")
	return cmd
}
