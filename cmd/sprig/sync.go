package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenhouse-labs/sprig/internal/config"
	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/spf13/cobra"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"Bypass throttling and network restrictions")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, _, err := buildEngine(ctx, cfg, db)
	if err != nil {
		return err
	}

	start := time.Now()
	ran, err := engine.Sync(ctx, syncForce)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if !ran {
		fmt.Fprintln(cmd.OutOrStdout(), "Sync skipped (throttled, offline, or restricted). Use --force to override.")
		return nil
	}

	rec, found, err := engine.LastRun(ctx)
	if err != nil || !found {
		fmt.Fprintf(cmd.OutOrStdout(), "Sync completed in %s.\n", time.Since(start).Round(time.Millisecond))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sync completed in %s: %d pulled, %d pushed across %d tables.\n",
		rec.Duration.Round(time.Millisecond), rec.Pulled, rec.Pushed, len(rec.Tables))
	return nil
}
