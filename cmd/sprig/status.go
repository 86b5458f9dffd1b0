package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/greenhouse-labs/sprig/internal/config"
	"github.com/greenhouse-labs/sprig/internal/health"
	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync health and the last run",
	Long:  "Reads persisted health metrics and the last run record straight from the local store; no server needs to be running.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics, err := health.Load(ctx, db)
	if err != nil {
		return fmt.Errorf("load health: %w", err)
	}
	snap := metrics.Snapshot()

	rec, found, err := health.LastRun(ctx, db)
	if err != nil {
		return fmt.Errorf("load last run: %w", err)
	}

	if statusJSONOutput {
		out := map[string]any{"health": snap}
		if found {
			out["last_run"] = rec
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Total runs\t%d\n", snap.TotalRuns)
	fmt.Fprintf(w, "Successful\t%d\n", snap.SuccessfulRuns)
	fmt.Fprintf(w, "Success rate\t%.0f%%\n", snap.SuccessRate*100)
	fmt.Fprintf(w, "Consecutive failures\t%d\n", snap.ConsecutiveFailures)
	fmt.Fprintf(w, "Avg duration\t%s\n", snap.AvgDuration.Round(time.Millisecond))
	if snap.SlowestOperation != "" {
		fmt.Fprintf(w, "Slowest\t%s (%s)\n", snap.SlowestOperation, snap.SlowestDuration.Round(time.Millisecond))
	}
	if !snap.LastRunAt.IsZero() {
		fmt.Fprintf(w, "Last run\t%s\n", snap.LastRunAt.Format("2006-01-02 15:04:05"))
	}
	if !snap.LastSuccessAt.IsZero() {
		fmt.Fprintf(w, "Last success\t%s\n", snap.LastSuccessAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	if !found {
		fmt.Fprintln(cmd.OutOrStdout(), "\nNo runs recorded yet.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nLast run %s: %d pulled, %d pushed", rec.RunID, rec.Pulled, rec.Pushed)
	if rec.Forced {
		fmt.Fprint(cmd.OutOrStdout(), " (forced)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if rec.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Last error: %s\n", rec.Error)
	}
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
