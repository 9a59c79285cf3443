package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/sendlog"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/store"
)

var (
	cleanupMaxAge        time.Duration
	cleanupSendLogMaxAge time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a one-shot retention sweep",
	Long: `Delete terminal jobs and send-log entries past their retention age, then exit.
Ages default to the retention section of the config file.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Delete terminal jobs older than this (default: config retention.max_age)")
	cleanupCmd.Flags().DurationVar(&cleanupSendLogMaxAge, "sendlog-max-age", 0, "Delete send-log entries older than this (default: config retention.sendlog_max_age)")

	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	maxAge := cleanupMaxAge
	if maxAge <= 0 {
		maxAge = cfg.Retention.MaxAge
	}
	sendLogMaxAge := cleanupSendLogMaxAge
	if sendLogMaxAge <= 0 {
		sendLogMaxAge = cfg.Retention.SendLogMaxAge
	}

	if maxAge <= 0 && sendLogMaxAge <= 0 {
		return fmt.Errorf("nothing to clean: set retention.max_age in the config or pass --max-age")
	}

	ctx := context.Background()

	if maxAge > 0 {
		jobs, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}

		deleted, err := jobs.CleanupTerminal(ctx, maxAge)
		jobs.Close()
		if err != nil {
			return fmt.Errorf("failed to clean up jobs: %w", err)
		}
		fmt.Printf("Deleted %d terminal jobs older than %s\n", deleted, maxAge)
	}

	if sendLogMaxAge > 0 {
		sends, err := sendlog.Open(cfg.SendLog.Path)
		if err != nil {
			return fmt.Errorf("failed to open send log: %w", err)
		}

		deleted, err := sends.Cleanup(ctx, sendLogMaxAge)
		sends.Close()
		if err != nil {
			return fmt.Errorf("failed to clean up send log: %w", err)
		}
		fmt.Printf("Deleted %d send-log entries older than %s\n", deleted, sendLogMaxAge)
	}

	return nil
}
