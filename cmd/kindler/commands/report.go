package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Inspect past runs",
		Long: `Report lists recent runs from the local history database. With a run id
it shows that run's task results.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return &ExitError{Code: 2, Err: fmt.Errorf("failed to open run history: %w", err)}
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, store stores.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tGOAL\tROLLUP\tSTARTED\tDURATION\tTASKS\tFAILED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID[:8],
			run.Goal,
			run.Rollup,
			run.StartedAt.Format(time.RFC3339),
			run.Duration.Round(time.Millisecond),
			run.Total,
			run.Failed,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, store stores.Store, runID string) error {
	// Accept the short id the list view prints.
	if len(runID) == 8 {
		runs, err := store.ListRuns(cmd.Context(), 100)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		for _, run := range runs {
			if run.ID[:8] == runID {
				runID = run.ID
				break
			}
		}
	}

	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	results, err := store.ListResults(cmd.Context(), runID)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run     *stores.Run                `json:"run"`
			Results []*stores.TaskResultRecord `json:"results"`
		}{run, results})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: goal=%s rollup=%s duration=%s\n\n",
		run.ID, run.Goal, run.Rollup, run.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tHOST\tSTATUS\tCHANGED\tDURATION\tMESSAGE")
	for _, res := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			res.Task,
			res.Host,
			res.Status,
			res.Changed,
			res.Duration.Round(time.Millisecond),
			res.Message,
		)
	}
	return w.Flush()
}
