package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/ampa/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func commandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Manage scheduled commands in the store",
	}
	cmd.AddCommand(commandAddCmd())
	cmd.AddCommand(commandSetCmd())
	cmd.AddCommand(commandRemoveCmd())
	return cmd
}

// commandFlags are the shared add/set inputs.
type commandFlags struct {
	id         string
	typ        string
	interval   string
	invocation []string
	meta       []string
}

func (f *commandFlags) register(cmd *cobra.Command, forAdd bool) {
	cmd.Flags().StringVar(&f.id, "id", "", "command id")
	cmd.Flags().StringVar(&f.typ, "type", "", "command type: triage-audit, delegation, or custom")
	cmd.Flags().StringVar(&f.interval, "interval", "", "run interval, e.g. 15m or 6h")
	cmd.Flags().StringArrayVar(&f.invocation, "invocation", nil, "argv token of the agent invocation; repeat per token, {id} is expanded")
	cmd.Flags().StringArrayVar(&f.meta, "meta", nil, "metadata entry key=value; repeat per entry")
	_ = cmd.MarkFlagRequired("id")
	if forAdd {
		_ = cmd.MarkFlagRequired("type")
		_ = cmd.MarkFlagRequired("interval")
	}
}

func commandAddCmd() *cobra.Command {
	var flags commandFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := flags.toCommand(store.Command{})
			if err != nil {
				return err
			}
			_, err = store.New(cfg.StorePath).Mutate(func(doc *store.Document) error {
				if _, exists := doc.Commands[c.CommandID]; exists {
					return fmt.Errorf("command %q already exists; use `ampa command set`", c.CommandID)
				}
				doc.Commands[c.CommandID] = c
				return nil
			})
			if err != nil {
				return err
			}
			log.Info().Str("command_id", c.CommandID).Msg("scheduled command added")
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func commandSetCmd() *cobra.Command {
	var flags commandFlags
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update a scheduled command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, err = store.New(cfg.StorePath).Mutate(func(doc *store.Document) error {
				existing, ok := doc.Commands[flags.id]
				if !ok {
					return fmt.Errorf("unknown command %q", flags.id)
				}
				updated, err := flags.toCommand(existing)
				if err != nil {
					return err
				}
				doc.Commands[flags.id] = updated
				return nil
			})
			if err != nil {
				return err
			}
			log.Info().Str("command_id", flags.id).Msg("scheduled command updated")
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func commandRemoveCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a scheduled command and its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, err = store.New(cfg.StorePath).Mutate(func(doc *store.Document) error {
				if _, ok := doc.Commands[id]; !ok {
					return fmt.Errorf("unknown command %q", id)
				}
				delete(doc.Commands, id)
				delete(doc.State.LastRunAt, id)
				delete(doc.State.InFlight, id)
				delete(doc.State.History, id)
				return nil
			})
			if err != nil {
				return err
			}
			log.Info().Str("command_id", id).Msg("scheduled command removed")
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "command id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// toCommand layers the provided flags over base, validating type and
// interval. Flags left unset keep the base values.
func (f *commandFlags) toCommand(base store.Command) (store.Command, error) {
	c := base
	c.CommandID = f.id
	if f.typ != "" {
		t := store.CommandType(f.typ)
		if !t.Valid() {
			return store.Command{}, fmt.Errorf("unknown command type %q", f.typ)
		}
		c.Type = t
	}
	if f.interval != "" {
		d, err := time.ParseDuration(f.interval)
		if err != nil {
			return store.Command{}, fmt.Errorf("parse interval: %w", err)
		}
		if d <= 0 {
			return store.Command{}, fmt.Errorf("interval must be positive, got %s", d)
		}
		c.Interval = store.Duration(d)
	}
	if len(f.invocation) > 0 {
		c.Invocation = f.invocation
	}
	if len(f.meta) > 0 {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(f.meta))
		}
		for _, entry := range f.meta {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || key == "" {
				return store.Command{}, fmt.Errorf("metadata entry %q is not key=value", entry)
			}
			c.Metadata[key] = value
		}
	}
	return c, nil
}
