// Command tether applies a batch of agent-requested operations against a
// GitHub repository, resolving temporary identifiers as creations land.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tetherbot/tether/internal/config"
	"github.com/tetherbot/tether/internal/logging"
	"github.com/tetherbot/tether/internal/telemetry"
)

var (
	verboseFlag bool
	quietFlag   bool
	repoFlag    string
	prefixFlag  string
	logFileFlag string

	log       zerolog.Logger
	logCloser = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "tether - batch dispatcher for agent-requested repository operations",
	Long: `Applies a batch of side-effecting operations (issues, comments, labels,
reviews, project items) against a GitHub repository in dependency order.
Operations may reference entities created earlier in the same batch through
temporary identifiers; tether resolves them as the creations land.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		level := config.GetString("log-level")
		if verboseFlag {
			level = "debug"
		}
		if quietFlag {
			level = "error"
		}
		var err error
		log, logCloser, err = logging.New(level, logFileFlag)
		if err != nil {
			return fmt.Errorf("configuring logging: %w", err)
		}

		if err := telemetry.Init(cmd.Context(), "tether", Version); err != nil {
			// Telemetry is best-effort; a broken exporter never blocks a run.
			log.Warn().Err(err).Msg("telemetry disabled")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
		logCloser()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Target repository as owner/name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "Temporary-identifier prefix (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Write logs to a file instead of stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
