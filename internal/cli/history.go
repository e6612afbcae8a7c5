package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the spans of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if runID != "" {
				spans, err := a.Spans(cmd.Context(), runID)
				if err != nil {
					return fmt.Errorf("list spans: %w", err)
				}
				if len(spans) == 0 {
					fmt.Fprintln(out, "No spans found.")
					return nil
				}
				base := spans[0].Start
				fmt.Fprintf(out, "%-8s  %-8s  %-10s  %-10s  %s\n", "WORKER", "PID", "START", "END", "REASON")
				for _, sp := range spans {
					fmt.Fprintf(out, "%-8d  %-8d  %-10s  %-10s  %s\n",
						sp.Worker, sp.PID, sp.Start.Sub(base), sp.End.Sub(base), sp.Reason)
				}
				return nil
			}

			runs, err := a.History(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-5s  %-7s  %-12s  %-10s  %s\n", "ID", "MODE", "WORKERS", "OUTCOME", "TOOK", "STARTED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s  %-5s  %-7d  %-12s  %-10s  %s\n",
					r.ID, r.Mode, r.Workers, r.Outcome, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond), r.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "Show the spans of this run")
	return cmd
}
