package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/metalagman/ampa/internal/store"
	"github.com/spf13/cobra"
)

// commandState is the list view of one scheduled command.
type commandState struct {
	store.Command
	LastRunAt    *store.Timestamp `json:"last_run_at,omitempty"`
	InFlight     *store.InFlight  `json:"in_flight,omitempty"`
	LastExitCode *int             `json:"last_exit_code,omitempty"`
}

func listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled commands and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, err := store.New(cfg.StorePath).Load()
			if err != nil {
				return err
			}

			states := collectStates(doc)
			if asJSON {
				return printJSON(states)
			}
			if len(states) == 0 {
				fmt.Println("no scheduled commands; run `ampa init` to seed the built-ins")
				return nil
			}
			for _, s := range states {
				fmt.Printf("%-16s %-13s every %-8s last run %-22s %s\n",
					s.CommandID, s.Type, s.Interval.Std(), formatLastRun(s.LastRunAt), flightNote(s))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON output")
	return cmd
}

func collectStates(doc *store.Document) []commandState {
	out := make([]commandState, 0, len(doc.Commands))
	for id, c := range doc.Commands {
		s := commandState{Command: c}
		if ts, ok := doc.State.LastRunAt[id]; ok {
			s.LastRunAt = &ts
		}
		if claim, ok := doc.State.InFlight[id]; ok {
			s.InFlight = &claim
		}
		if history := doc.State.History[id]; len(history) > 0 {
			code := history[len(history)-1].ExitCode
			s.LastExitCode = &code
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommandID < out[j].CommandID })
	return out
}

func formatLastRun(ts *store.Timestamp) string {
	if ts == nil {
		return "never"
	}
	return ts.Format(time.RFC3339)
}

func flightNote(s commandState) string {
	switch {
	case s.InFlight != nil:
		return fmt.Sprintf("in flight (pid %d)", s.InFlight.PID)
	case s.LastExitCode != nil && *s.LastExitCode != 0:
		return fmt.Sprintf("last exit %d", *s.LastExitCode)
	default:
		return ""
	}
}
