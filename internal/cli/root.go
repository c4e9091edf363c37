// Package cli implements the flam command-line frontend: a thin cobra
// command tree over internal/jobs.Store/Service. No HTTP layer sits
// between these commands and the queue — each one opens the SQLite
// store directly, matching the original tool's single-process design.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pikachusensei/flam/internal/config"
	"github.com/pikachusensei/flam/internal/jobs"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion is called from main to inject build-time version info.
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "flam",
	Short: "flam — a durable queue for shell commands",
	Long: `flam runs shell commands in the background with retries, exponential
backoff, crash recovery, and a dead-letter queue. All state lives in a
single SQLite file so it survives process restarts.

Get started:
  flam init
  flam enqueue "echo hello"
  flam worker start`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to the queue database (default: flam.toml's database.path, or queue.db)")
	rootCmd.PersistentFlags().String("config", "", "Path to flam.toml")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format (shorthand for --output json)")
	rootCmd.PersistentFlags().String("output", "table", "Output format: table or json")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// outputFormat returns the resolved output format from flags. --json is
// a shorthand for --output json.
func outputFormat(cmd *cobra.Command) string {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	if jsonFlag {
		return "json"
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return "table"
	}
	return out
}

// loadConfig resolves flam.toml plus any --db/--config overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")
	flags := map[string]string{"db": dbPath}
	return config.Load(configPath, flags)
}

// openStore resolves the configured database and opens+initializes it.
func openStore(ctx context.Context, cmd *cobra.Command) (*jobs.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := jobs.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}
