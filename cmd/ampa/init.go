package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/ampa/internal/daemon"
	"github.com/metalagman/ampa/internal/store"
	"github.com/metalagman/ampa/internal/workflow"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Built-in schedule seeded into a fresh store.
const (
	defaultAuditInterval      = 30 * time.Minute
	defaultDelegationInterval = 15 * time.Minute
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ampa state for the current project",
		Long:  "Initialize ampa for a project: create the .worklog/ampa directory, install the starter workflow descriptor, and seed the scheduler store with the built-in commands. Existing files are left alone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info().Str("dir", cfg.AmpaDir()).Msg("creating ampa directory")
			if err := os.MkdirAll(cfg.RunDir(daemon.DefaultName), 0o755); err != nil {
				return fmt.Errorf("create ampa dir: %w", err)
			}

			descriptor := filepath.Join(cfg.ProjectRoot, ".worklog", "workflow.yaml")
			if _, err := os.Stat(descriptor); os.IsNotExist(err) {
				log.Info().Str("path", descriptor).Msg("installing starter workflow descriptor")
				if err := os.WriteFile(descriptor, workflow.CanonicalYAML(), 0o644); err != nil {
					return fmt.Errorf("write workflow descriptor: %w", err)
				}
			} else {
				log.Info().Str("path", descriptor).Msg("workflow descriptor already present, keeping it")
			}

			st := store.New(cfg.StorePath)
			_, err = st.Mutate(func(doc *store.Document) error {
				changed := false
				for _, c := range builtinCommands() {
					if _, exists := doc.Commands[c.CommandID]; exists {
						log.Info().Str("command_id", c.CommandID).Msg("scheduled command already present, keeping it")
						continue
					}
					doc.Commands[c.CommandID] = c
					log.Info().Str("command_id", c.CommandID).Str("interval", c.Interval.Std().String()).Msg("seeding scheduled command")
					changed = true
				}
				if !changed {
					return store.ErrNoChange
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("seed scheduler store: %w", err)
			}

			log.Info().Msg("ampa initialized")
			return nil
		},
	}
}

func builtinCommands() []store.Command {
	return []store.Command{
		{
			CommandID: "triage-audit",
			Type:      store.TypeTriageAudit,
			Interval:  store.Duration(defaultAuditInterval),
		},
		{
			CommandID: "delegation",
			Type:      store.TypeDelegation,
			Interval:  store.Duration(defaultDelegationInterval),
		},
	}
}
