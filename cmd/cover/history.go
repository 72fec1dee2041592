package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/julianshen/coverclient/internal/config"
	"github.com/julianshen/coverclient/internal/store"
)

// openHistory opens the history database, or returns nil when history is
// disabled.
func (a *app) openHistory() (*store.Store, error) {
	if a.cfg.History.Disabled {
		return nil, nil
	}
	path := a.cfg.History.Path
	if path == "" {
		path = config.DefaultHistoryPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	s, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return s, nil
}

var errHistoryDisabled = errors.New("history is disabled in the config")

func (a *app) requireHistory() (*store.Store, error) {
	s, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errHistoryDisabled
	}
	return s, nil
}

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect analyses started from this machine",
	}
	cmd.AddCommand(historyListCmd(a), historyShowCmd(a), historyDeleteCmd(a))
	return cmd
}

func historyListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded analyses, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.requireHistory()
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.ListAnalyses(limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No analyses recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tRESULTS\tSTARTED")
			for _, an := range list {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n",
					an.ID, an.Status, an.Completed, an.Total, an.ResultCount,
					an.StartedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of analyses to show (0 for all)")
	return cmd
}

func historyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <analysis-id>",
		Short: "Show a recorded analysis and its status changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.requireHistory()
			if err != nil {
				return err
			}
			defer s.Close()

			an, err := s.GetAnalysis(args[0])
			if err != nil {
				return err
			}
			if an == nil {
				return fmt.Errorf("analysis %q not found in history", args[0])
			}
			transitions, err := s.ListTransitions(an.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", an.ID)
			fmt.Fprintf(out, "API:       %s\n", an.APIURL)
			fmt.Fprintf(out, "Status:    %s\n", an.Status)
			fmt.Fprintf(out, "Progress:  %d/%d\n", an.Completed, an.Total)
			fmt.Fprintf(out, "Results:   %d\n", an.ResultCount)
			if an.Cursor != "" {
				fmt.Fprintf(out, "Cursor:    %s\n", an.Cursor)
			}
			if an.TestsDir != "" {
				fmt.Fprintf(out, "Tests:     %s\n", an.TestsDir)
			}
			fmt.Fprintf(out, "Started:   %s\n", an.StartedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:   %s\n", an.UpdatedAt.Format(time.RFC3339))
			if len(transitions) > 0 {
				fmt.Fprintln(out, "Transitions:")
				for _, t := range transitions {
					fmt.Fprintf(out, "  %s  %s -> %s\n", t.At.Format(time.RFC3339), t.From, t.To)
				}
			}
			return nil
		},
	}
}

func historyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <analysis-id>",
		Short: "Remove an analysis from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.requireHistory()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DeleteAnalysis(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
