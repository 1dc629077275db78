package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/traderepublic/broker-session/config"
	"github.com/traderepublic/broker-session/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tr-session",
	Short: "Trade Republic session CLI - authenticate and stream against the broker gateway",
	Long: `tr-session drives the broker session core from a terminal: it performs the
two-step REST handshake, holds the resulting streaming connection open, and
exposes the subscribe/await-answer/await-event patterns as subcommands.`,
}

// cfg and log are shared by every subcommand; resolved once in
// PersistentPreRunE so flags and env overrides apply uniformly.
var (
	cfg config.Config
	log logger.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Missing credentials are not an error here: authenticate prompts
		// for them, and the keys subcommands do not need them.
		opts := config.DefaultLoaderOptions()
		opts.SkipValidation = true
		loaded, err := config.Load(opts)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded
		log = logger.NewDefaultLogger()
		return nil
	}

	// Note: commands are registered in their respective files
	// - login.go: loginCmd
	// - keys.go: keysCmd (show, forget)
	// - subscribe.go: subscribeCmd
	// - await.go: awaitAnswerCmd, awaitEventCmd
	// - serve.go: serveCmd
}
