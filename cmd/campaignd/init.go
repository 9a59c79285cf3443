package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	initOutput  string
	initDataDir string
	initListen  string
	initSecret  string
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize campaignd configuration",
	Long: `Create a starter configuration file with a generated trigger secret.

Examples:
  # Write campaignd.yaml with defaults
  campaignd init

  # Custom paths
  campaignd init -o /etc/campaignd/config.yaml --data-dir /srv/campaignd`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "campaignd.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/campaignd", "Data directory for job store and send log")
	initCmd.Flags().StringVar(&initListen, "listen", ":8080", "API listen address")
	initCmd.Flags().StringVar(&initSecret, "secret", "", "Trigger secret (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	generated := false
	if initSecret == "" {
		initSecret = generateRandomString(32)
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(initSecret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash trigger secret: %w", err)
	}

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	config := generateConfig(string(hash))

	if err := os.WriteFile(initOutput, []byte(config), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", initOutput)
	fmt.Println()
	printInitNextSteps(generated)

	return nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(secretHash string) string {
	return fmt.Sprintf(`# Campaignd configuration
# Generated by: campaignd init

server:
  listen_addr: "%s"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  shutdown_timeout: 10s

auth:
  # bcrypt hash of the trigger secret. Regenerate with: campaignd secret hash
  cron_secret_hash: "%s"

store:
  path: "%s/jobs.db"

sendlog:
  path: "%s/sendlog.db"

runner:
  max_concurrent: 1
  job_timeout: 25m
  stale_after: 30m
  poll_interval: 0s  # 0 = external cron triggers only

retry:
  max_attempts: 3
  initial_backoff: 5m
  max_backoff: 1h

channels:
  email:
    batch_size: 100
    batch_delay: 500ms
  sms:
    batch_size: 100
    batch_delay: 500ms
    # Per-provider overrides, e.g. Fast2SMS bulk endpoint takes larger batches:
    # providers:
    #   fast2sms:
    #     batch_size: 250
  whatsapp:
    batch_size: 100
    batch_delay: 1s

# Uncomment the providers you use. API keys can also come from the
# environment (SMTP_PASSWORD, BREVO_API_KEY, MSG91_AUTH_KEY,
# FAST2SMS_API_KEY, AISENSY_API_KEY, GUPSHUP_API_KEY).
providers:
  # smtp:
  #   host: "smtp.example.com"
  #   port: 587
  #   username: "apikey"
  #   password: ""
  # brevo:
  #   api_key: ""
  # msg91:
  #   auth_key: ""
  # fast2sms:
  #   api_key: ""
  # aisensy:
  #   api_key: ""
  # gupshup:
  #   api_key: ""
  #   app_name: "myapp"
  #   source: "919999999999"

retention:
  interval: 1h
  max_age: 720h         # terminal jobs kept 30 days
  sendlog_max_age: 2160h  # send log kept 90 days

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"

logging:
  level: "info"
  format: "json"
`,
		initListen,
		secretHash,
		initDataDir,
		initDataDir,
	)
}

func printInitNextSteps(generatedSecret bool) {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Configure at least one provider in the providers section")
	fmt.Println()
	fmt.Println("2. Start the server:")
	fmt.Printf("   campaignd serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Schedule the cron trigger:")
	fmt.Printf("   * * * * * curl -s -H \"Authorization: Bearer %s\" http://localhost%s/run-campaign-jobs\n", initSecret, initListen)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	if generatedSecret {
		fmt.Printf("Trigger secret: %s\n", initSecret)
		fmt.Println("Store it now; only its hash is in the config file.")
	} else {
		fmt.Println("Trigger secret: (as provided via --secret)")
	}
	fmt.Println()
}
