package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceConfig holds runtime parameters for the worker pool.
type ServiceConfig struct {
	WorkerCount     int
	PollInterval    time.Duration
	StaleAfter      time.Duration
	ShutdownTimeout time.Duration
	WorkerIDPrefix  string
	StopFlagPath    string
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		WorkerCount:     1,
		PollInterval:    200 * time.Millisecond,
		StaleAfter:      5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		WorkerIDPrefix:  "worker",
		StopFlagPath:    "stop.flag",
	}
}

// Service runs the worker pool over a Store: claim, execute, write
// outcome, repeat, honoring a file-based stop signal and process-level
// cancellation.
type Service struct {
	store    *Store
	executor *Executor
	logger   *slog.Logger
	cfg      ServiceConfig
	stopFlag *StopFlag
}

// NewService creates a Service over store.
func NewService(store *Store, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{
		store:    store,
		executor: NewExecutor(),
		logger:   logger,
		cfg:      cfg,
		stopFlag: NewStopFlag(cfg.StopFlagPath),
	}
}

// Run clears the stop flag, performs one recovery sweep, then starts
// cfg.WorkerCount worker goroutines. It returns nil once every worker has
// exited after seeing the stop flag. When ctx is cancelled it waits up to
// cfg.ShutdownTimeout for workers to finish their in-flight jobs: nil if
// they all exit in time, otherwise ctx.Err() while those workers are still
// running. Workers log store errors and keep polling; no worker ends the
// pool with an error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.stopFlag.Clear(); err != nil {
		return fmt.Errorf("jobs: clear stop flag: %w", err)
	}

	recovered, err := s.store.RecoverStuck(ctx, s.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("jobs: startup recovery sweep: %w", err)
	}
	if len(recovered) > 0 {
		s.logger.Info("recovered stuck jobs", "count", len(recovered), "ids", recovered)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", s.cfg.WorkerIDPrefix, i)
		g.Go(func() error {
			s.workerLoop(gctx, workerID)
			return nil
		})
	}

	s.logger.Info("worker pool started", "workers", s.cfg.WorkerCount,
		"poll_interval", s.cfg.PollInterval)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err = <-done:
		s.logger.Info("worker pool stopped")
		return err
	case <-ctx.Done():
	}

	// ctx was cancelled (e.g. SIGINT/SIGTERM in the CLI).
	// Workers still finish whatever job they have in flight before their
	// loop exits, so give them up to ShutdownTimeout to drain before
	// returning control to the caller.
	select {
	case err = <-done:
		s.logger.Info("worker pool stopped")
		return err
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("shutdown timeout exceeded, workers still draining in-flight jobs",
			"shutdown_timeout", s.cfg.ShutdownTimeout)
		return ctx.Err()
	}
}

// workerLoop implements the loop described by the external poll-claim-
// execute-write cycle: the stop flag and context cancellation are both
// checked once per iteration, never mid-job, so an in-flight command
// always runs to completion (or its own timeout) before the worker exits.
func (s *Service) workerLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.stopFlag.Present() {
			s.logger.Info("stop flag present, worker exiting", "worker", workerID)
			return
		}

		s.pollAndProcess(ctx, workerID)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) pollAndProcess(ctx context.Context, workerID string) {
	job, err := s.store.Claim(ctx, workerID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("claim failed", "worker", workerID, "error", err)
		return
	}
	if job == nil {
		return
	}

	s.logger.Info("claimed job", "job_id", job.ID, "worker", workerID,
		"attempt", job.Attempts+1, "command", job.Command)

	// The executor is given no cancellation context: a claimed job always
	// runs to completion or its own timeout, even across worker shutdown.
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	result := s.executor.Run(job.Command, timeout)

	// The outcome is written with a context that ignores cancellation, so a
	// job that finishes during shutdown still has its result recorded.
	writeCtx := context.WithoutCancel(ctx)

	if result.ExitCode == 0 {
		if err := s.store.WriteSuccess(writeCtx, job.ID, result.Output, result.Duration); err != nil {
			s.logger.Error("write success failed", "job_id", job.ID, "error", err)
			return
		}
		s.logger.Info("job completed", "job_id", job.ID, "worker", workerID,
			"duration_seconds", result.Duration.Seconds())
		return
	}

	if err := s.store.WriteFailure(writeCtx, job.ID, result.Output, result.Duration); err != nil {
		s.logger.Error("write failure failed", "job_id", job.ID, "error", err)
		return
	}
	s.logger.Warn("job failed", "job_id", job.ID, "worker", workerID,
		"exit_code", result.ExitCode, "duration_seconds", result.Duration.Seconds())
}

// Enqueue delegates to the underlying store.
func (s *Service) Enqueue(ctx context.Context, command string, opts EnqueueOpts) (string, error) {
	return s.store.Enqueue(ctx, command, opts)
}

// Get delegates to the underlying store.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.store.Get(ctx, jobID)
}

// Stats delegates to the underlying store.
func (s *Service) Stats(ctx context.Context) (QueueStats, error) {
	return s.store.GetCounts(ctx)
}

// RetryDead delegates to the underlying store.
func (s *Service) RetryDead(ctx context.Context, jobID string) error {
	return s.store.RetryDead(ctx, jobID)
}
