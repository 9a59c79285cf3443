package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Trigger secret commands",
}

var secretHashCmd = &cobra.Command{
	Use:   "hash [secret]",
	Short: "Print a bcrypt hash for the trigger secret",
	Long: `Hash a trigger secret for use as auth.cron_secret_hash in the config file.
The secret is taken from the argument, or read from stdin when omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSecretHash,
}

func init() {
	secretCmd.AddCommand(secretHashCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretHash(cmd *cobra.Command, args []string) error {
	var secret string

	if len(args) == 1 {
		secret = args[0]
	} else {
		input, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && input == "" {
			return fmt.Errorf("failed to read secret from stdin: %w", err)
		}
		secret = strings.TrimSpace(input)
	}

	if secret == "" {
		return fmt.Errorf("secret is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}
