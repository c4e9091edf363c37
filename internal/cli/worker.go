package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pikachusensei/flam/internal/config"
	"github.com/pikachusensei/flam/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker pool",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Claim and execute jobs until stopped",
	RunE:  runWorkerStart,
}

func init() {
	workerStartCmd.Flags().Int("count", 1, "Number of concurrent worker goroutines")
	workerStartCmd.Flags().Int("poll-interval", 0, "Poll interval in milliseconds (default: config worker.poll_interval_ms)")
	workerStartCmd.Flags().Int("stale-after", 0, "Seconds before a processing job is considered stuck (default: config worker.stale_after_s)")
	workerStartCmd.Flags().String("stop-flag", "stop.flag", "Path to the file that, if present, tells workers to drain and exit")

	workerCmd.AddCommand(workerStartCmd)
}

func runWorkerStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	count, _ := cmd.Flags().GetInt("count")
	pollMs, _ := cmd.Flags().GetInt("poll-interval")
	if pollMs == 0 {
		pollMs = cfg.Worker.PollIntervalMs
	}
	staleAfterS, _ := cmd.Flags().GetInt("stale-after")
	if staleAfterS == 0 {
		staleAfterS = cfg.Worker.StaleAfterS
	}
	stopFlagPath, _ := cmd.Flags().GetString("stop-flag")

	svcCfg := jobs.DefaultServiceConfig()
	svcCfg.WorkerCount = count
	svcCfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	svcCfg.StaleAfter = time.Duration(staleAfterS) * time.Second
	svcCfg.ShutdownTimeout = time.Duration(cfg.Worker.ShutdownTimeout) * time.Second
	svcCfg.StopFlagPath = stopFlagPath

	logger := newLogger(cfg)
	svc := jobs.NewService(store, logger, svcCfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Starting %d worker(s), polling every %dms\n", count, pollMs)
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
