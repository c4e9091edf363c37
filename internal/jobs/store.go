package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/pikachusensei/flam/internal/clock"
)

// defaultConfig seeds the config table on first Init. Keys read by the
// store at enqueue time are max_retries, base_backoff and default_timeout.
// poll_interval and priority_default are stored here and can be read and
// changed through `flam config get/set`, but no other code reads them.
var defaultConfig = map[string]string{
	"max_retries":      "3",
	"base_backoff":     "2.0",
	"default_timeout":  "30",
	"poll_interval":    "200",
	"priority_default": "0",
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	command          TEXT NOT NULL,
	state            TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_retries      INTEGER NOT NULL,
	base_backoff     REAL NOT NULL,
	next_run_at      TEXT NOT NULL,
	last_error       TEXT,
	last_output      TEXT,
	duration_seconds REAL,
	timeout_seconds  INTEGER NOT NULL,
	priority         INTEGER NOT NULL DEFAULT 0,
	locked_by        TEXT,
	locked_at        TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (state, next_run_at, priority);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// jobsColumns tracks columns added after the initial schema, migrated
// idempotently via PRAGMA table_info + ALTER TABLE ADD COLUMN so a
// queue.db created by an earlier version of this schema still opens.
var jobsColumns = []struct {
	name string
	ddl  string
}{
	{"priority", "ALTER TABLE jobs ADD COLUMN priority INTEGER NOT NULL DEFAULT 0"},
	{"locked_by", "ALTER TABLE jobs ADD COLUMN locked_by TEXT"},
	{"locked_at", "ALTER TABLE jobs ADD COLUMN locked_at TEXT"},
}

// maxBusyRetries bounds the total number of attempts withBusyRetry makes
// at an operation that fails with SQLITE_BUSY before giving up and returning the
// error to the caller, per the StoreBusy row of the error table: lock
// contention is retried with small jitter and bounded attempts, not
// retried forever.
const maxBusyRetries = 5

// busyRetryBase is the unjittered base delay before the first retry;
// subsequent retries back off linearly from it.
const busyRetryBase = 20 * time.Millisecond

// isBusyErr reports whether err is SQLite reporting that another
// connection — typically a separate `flam worker start` process sharing
// the same database file — currently holds the write lock.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs op, retrying with bounded jittered backoff while it
// keeps failing with SQLITE_BUSY. Any other error, or exhausting
// maxBusyRetries, is returned to the caller immediately.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = op()
		if !isBusyErr(err) {
			return err
		}
		if attempt == maxBusyRetries-1 {
			break
		}
		wait := busyRetryBase*time.Duration(attempt+1) + time.Duration(rand.Intn(int(busyRetryBase)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("jobs: gave up after %d attempts: %w", maxBusyRetries, err)
}

// Store is the durable job queue backed by a single SQLite file.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if absent) the SQLite database at path. It does
// not create the schema — call Init for that.
func Open(path string) (*Store, error) {
	// _txlock=immediate makes the driver begin every writable transaction
	// with BEGIN IMMEDIATE, which the claim transaction relies on.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("jobs: open store: %w", err)
	}
	// SQLite allows one writer at a time; funnel all connections through a
	// single one so the claim transaction's BEGIN IMMEDIATE never has to
	// contend with a second connection from this same process.
	db.SetMaxOpenConns(1)
	// Let SQLite itself wait out a lock held by a writer in a different
	// process before giving up with SQLITE_BUSY; withBusyRetry below is the
	// second line of defense once this timeout is exhausted.
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: set busy_timeout: %w", err)
	}
	return &Store{db: db, clock: clock.Real{}}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if absent, migrates older schemas idempotently,
// and seeds default config values that are still unset.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("jobs: create schema: %w", err)
	}
	if err := s.migrateJobsColumns(ctx); err != nil {
		return err
	}
	for k, v := range defaultConfig {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO config (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO NOTHING`, k, v); err != nil {
			return fmt.Errorf("jobs: seed config %s: %w", k, err)
		}
	}
	return nil
}

func (s *Store) migrateJobsColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(jobs)`)
	if err != nil {
		return fmt.Errorf("jobs: inspect schema: %w", err)
	}
	present := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("jobs: inspect schema: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("jobs: inspect schema: %w", err)
	}
	rows.Close()

	for _, col := range jobsColumns {
		if present[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("jobs: migrate column %s: %w", col.name, err)
		}
	}
	return nil
}

// Enqueue validates opts, assigns a fresh id, and inserts a pending job.
func (s *Store) Enqueue(ctx context.Context, command string, opts EnqueueOpts) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", ErrInvalidArgs
	}
	hasDelay := opts.Delay != 0
	hasRunAt := !opts.RunAt.IsZero()
	if hasDelay && hasRunAt {
		return "", ErrInvalidTime
	}
	if hasDelay && opts.Delay < 0 {
		return "", ErrInvalidTime
	}

	now := s.clock.Now()
	nextRun := now
	switch {
	case hasRunAt:
		nextRun = opts.RunAt.UTC()
	case hasDelay:
		nextRun = now.Add(opts.Delay)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == nil {
		v, err := s.intConfig(ctx, "max_retries")
		if err != nil {
			return "", err
		}
		maxRetries = &v
	}
	baseBackoff := opts.BaseBackoff
	if baseBackoff == nil {
		v, err := s.floatConfig(ctx, "base_backoff")
		if err != nil {
			return "", err
		}
		baseBackoff = &v
	}
	timeout := opts.TimeoutSeconds
	if timeout == 0 {
		v, err := s.intConfig(ctx, "default_timeout")
		if err != nil {
			return "", err
		}
		timeout = v
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (
				id, command, state, attempts, max_retries, base_backoff,
				next_run_at, timeout_seconds, priority, created_at, updated_at
			) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
			id, command, StatePending, *maxRetries, *baseBackoff,
			clock.Format(nextRun), timeout, opts.Priority,
			clock.Format(now), clock.Format(now),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue: %w", err)
	}
	return id, nil
}

// Claim atomically reserves the highest-priority, earliest-created
// eligible pending job for workerID, or returns (nil, nil) if none is
// eligible right now. Selection and the conditional update run inside a
// single BEGIN IMMEDIATE transaction so exactly one worker wins any race
// over the same row.
func (s *Store) Claim(ctx context.Context, workerID string) (*Job, error) {
	var job *Job
	err := withBusyRetry(ctx, func() error {
		j, err := s.claimOnce(ctx, workerID)
		job = j
		return err
	})
	return job, err
}

func (s *Store) claimOnce(ctx context.Context, workerID string) (*Job, error) {
	tx, err := beginImmediate(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: begin: %w", err)
	}
	defer tx.Rollback()

	now := clock.Format(s.clock.Now())

	var id string
	row := tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE state = ? AND next_run_at <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`, StatePending, now)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: claim: select: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateProcessing, workerID, now, now, id, StatePending)
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race to another worker; treat it as "no work" this tick.
		return nil, nil
	}

	job, err := s.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobs: claim: commit: %w", err)
	}
	return job, nil
}

// beginImmediate starts a transaction that acquires SQLite's write lock
// up front (Open sets _txlock=immediate, so BeginTx issues BEGIN
// IMMEDIATE), avoiding the reader-to-writer upgrade deadlock a plain BEGIN
// (deferred) would risk under concurrent claims.
func beginImmediate(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, &sql.TxOptions{})
}

// WriteSuccess transitions a processing job to completed, recording
// output and duration, and clears the lease fields per invariant I2.
func (s *Store) WriteSuccess(ctx context.Context, jobID, output string, duration time.Duration) error {
	now := clock.Format(s.clock.Now())
	secs := duration.Seconds()
	out := truncateOutput(output)
	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET state = ?, last_output = ?, duration_seconds = ?,
			    locked_by = NULL, locked_at = NULL, updated_at = ?
			WHERE id = ? AND state = ?`,
			StateCompleted, out, secs, now, jobID, StateProcessing)
		return err
	})
	if err != nil {
		return fmt.Errorf("jobs: write success: %w", err)
	}
	return nil
}

// WriteFailure records a failed attempt. If attempts remain, the job goes
// back to pending with an exponential-backoff next_run_at and the fixed
// last_error string JobFailedMessage; otherwise it moves to the
// dead-letter state with MaxRetriesExceededMessage. The lease fields are
// cleared on both branches (invariant I2).
func (s *Store) WriteFailure(ctx context.Context, jobID, output string, duration time.Duration) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	attempts := job.Attempts + 1
	out := truncateOutput(output)
	secs := duration.Seconds()

	if attempts > job.MaxRetries {
		err := withBusyRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, `
				UPDATE jobs
				SET state = ?, attempts = ?, last_error = ?, last_output = ?,
				    duration_seconds = ?, locked_by = NULL, locked_at = NULL,
				    updated_at = ?
				WHERE id = ? AND state = ?`,
				StateDead, attempts, MaxRetriesExceededMessage, out, secs,
				clock.Format(now), jobID, StateProcessing)
			return err
		})
		if err != nil {
			return fmt.Errorf("jobs: write failure (dead): %w", err)
		}
		return nil
	}

	backoff := ComputeBackoff(job.BaseBackoff, attempts)
	nextRun := clock.Format(now.Add(backoff))
	err = withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET state = ?, attempts = ?, last_error = ?, last_output = ?,
			    duration_seconds = ?, next_run_at = ?,
			    locked_by = NULL, locked_at = NULL, updated_at = ?
			WHERE id = ? AND state = ?`,
			StatePending, attempts, JobFailedMessage, out, secs, nextRun,
			clock.Format(now), jobID, StateProcessing)
		return err
	})
	if err != nil {
		return fmt.Errorf("jobs: write failure (retry): %w", err)
	}
	return nil
}

// RecoverStuck reclaims jobs left in processing with a lease older than
// staleAfter — e.g. because their worker crashed — putting them back to
// pending for another attempt. Selection and update share one
// transaction so the returned ids are exactly the rows that were reset.
func (s *Store) RecoverStuck(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	var ids []string
	err := withBusyRetry(ctx, func() error {
		got, err := s.recoverStuckOnce(ctx, staleAfter)
		ids = got
		return err
	})
	return ids, err
}

func (s *Store) recoverStuckOnce(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobs: recover: begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := clock.Format(s.clock.Now().Add(-staleAfter))

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs WHERE state = ? AND locked_at IS NOT NULL AND locked_at < ?`,
		StateProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("jobs: recover: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("jobs: recover: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: recover: rows: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := clock.Format(s.clock.Now())
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatePending, now)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET state = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("jobs: recover: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobs: recover: commit: %w", err)
	}
	return ids, nil
}

// RetryDead re-arms a dead job — the only transition out of a terminal
// state. Attempts resets to 0 so the job gets a fresh retry budget.
func (s *Store) RetryDead(ctx context.Context, jobID string) error {
	now := clock.Format(s.clock.Now())
	var notFound bool
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET state = ?, attempts = 0, next_run_at = ?, last_error = NULL,
			    locked_by = NULL, locked_at = NULL, updated_at = ?
			WHERE id = ? AND state = ?`,
			StatePending, now, now, jobID, StateDead)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		notFound = n == 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("jobs: retry dead: %w", err)
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

// Get fetches a single job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	var job *Job
	err := withBusyRetry(ctx, func() error {
		j, err := s.getTx(ctx, s.db, jobID)
		job = j
		return err
	})
	return job, err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getTx(ctx context.Context, q queryRower, jobID string) (*Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, command, state, attempts, max_retries, base_backoff,
		       next_run_at, last_error, last_output, duration_seconds,
		       timeout_seconds, priority, locked_by, locked_at,
		       created_at, updated_at
		FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get %s: %w", jobID, err)
	}
	return job, nil
}

// ListByState returns jobs in the given state ordered by priority then
// creation time, matching the claim order.
func (s *Store) ListByState(ctx context.Context, state JobState) ([]*Job, error) {
	var out []*Job
	err := withBusyRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, command, state, attempts, max_retries, base_backoff,
			       next_run_at, last_error, last_output, duration_seconds,
			       timeout_seconds, priority, locked_by, locked_at,
			       created_at, updated_at
			FROM jobs WHERE state = ?
			ORDER BY priority DESC, created_at ASC`, state)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out = append(out, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: list %s: %w", state, err)
	}
	return out, nil
}

// ListDead is a convenience wrapper over ListByState(StateDead).
func (s *Store) ListDead(ctx context.Context) ([]*Job, error) {
	return s.ListByState(ctx, StateDead)
}

// GetCounts returns the number of jobs in each state.
func (s *Store) GetCounts(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	err := withBusyRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
		if err != nil {
			return err
		}
		defer rows.Close()

		stats = QueueStats{}
		for rows.Next() {
			var state string
			var n int
			if err := rows.Scan(&state, &n); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			switch JobState(state) {
			case StatePending:
				stats.Pending = n
			case StateProcessing:
				stats.Processing = n
			case StateCompleted:
				stats.Completed = n
			case StateDead:
				stats.Dead = n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs: get counts: %w", err)
	}
	return stats, nil
}

// GetConfigValue reads a single key from the config table.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var v string
	err := withBusyRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	})
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("jobs: config key %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("jobs: get config %s: %w", key, err)
	}
	return v, nil
}

// SetConfigValue writes (or overwrites) a single config key.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("jobs: set config %s: %w", key, err)
	}
	return nil
}

func (s *Store) intConfig(ctx context.Context, key string) (int, error) {
	v, err := s.GetConfigValue(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("jobs: config %s is not an integer: %w", key, err)
	}
	return n, nil
}

func (s *Store) floatConfig(ctx context.Context, key string) (float64, error) {
	v, err := s.GetConfigValue(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("jobs: config %s is not a number: %w", key, err)
	}
	return f, nil
}

// maxOutputBytes caps last_output before it is stored.
const maxOutputBytes = 5000

func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes]
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var state string
	var nextRunAt, createdAt, updatedAt string
	var lockedAt, lastError, lastOutput, lockedBy sql.NullString
	var durationSeconds sql.NullFloat64

	if err := row.Scan(
		&j.ID, &j.Command, &state, &j.Attempts, &j.MaxRetries, &j.BaseBackoff,
		&nextRunAt, &lastError, &lastOutput, &durationSeconds,
		&j.TimeoutSeconds, &j.Priority, &lockedBy, &lockedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.State = JobState(state)
	var err error
	if j.NextRunAt, err = clock.Parse(nextRunAt); err != nil {
		return nil, fmt.Errorf("parse next_run_at: %w", err)
	}
	if j.CreatedAt, err = clock.Parse(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.UpdatedAt, err = clock.Parse(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lockedAt.Valid {
		t, err := clock.Parse(lockedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse locked_at: %w", err)
		}
		j.LockedAt = &t
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if lastOutput.Valid {
		j.LastOutput = &lastOutput.String
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if durationSeconds.Valid {
		j.DurationSeconds = &durationSeconds.Float64
	}
	return &j, nil
}
