package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/app"
	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "campaignd",
	Short: "Campaignd - Campaign Job Runner",
	Long:  `Campaignd is a durable job queue and runner for email, SMS and WhatsApp campaigns.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets may live in a local .env; a missing file is fine.
		_ = godotenv.Load()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign job server",
	Long:  `Start the campaignd HTTP API and background workers.`,
	RunE:  runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single processing pass and exit",
	Long:  `Run one pass over all due campaign jobs, print the summary, and exit. Intended for cron.`,
	RunE:  runOnce,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("campaignd version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, runCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CAMPAIGND_CONFIG")
	}
	if path == "" {
		return nil, fmt.Errorf("config file is required (use -c flag or CAMPAIGND_CONFIG)")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	summary, err := application.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("processing pass failed: %w", err)
	}

	fmt.Printf("Processed: %d\n", summary.Processed)
	fmt.Printf("Succeeded: %d\n", summary.Succeeded)
	fmt.Printf("Failed:    %d\n", summary.Failed)
	fmt.Printf("Retried:   %d\n", summary.Retried)

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CAMPAIGND_CONFIG")
	}
	if path == "" {
		return fmt.Errorf("config file is required (use -c flag or CAMPAIGND_CONFIG)")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Job store: %s\n", cfg.Store.Path)
	fmt.Printf("  Send log: %s\n", cfg.SendLog.Path)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)

	return nil
}
