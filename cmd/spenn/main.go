/**
 * @description
 * This is the main entry point for the spenn service. The `serve` command runs the
 * long-lived process (event consumers, scheduled jobs and the internal HTTP API);
 * `reconcile` and `migrate` are one-shot operational commands.
 *
 * @dependencies
 * - github.com/spf13/cobra: For the command-line interface.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:           "spenn",
		Short:         "Payment orders and reconciliation for sick-pay refunds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
