package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fc := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.clock = fc

	require.NoError(t, s.Init(context.Background()))
	return s, fc
}

func TestInitIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	v, err := s.GetConfigValue(ctx, "max_retries")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestEnqueueRejectsEmptyCommand(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Enqueue(context.Background(), "   ", EnqueueOpts{})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestEnqueueRejectsDelayAndRunAtTogether(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Enqueue(context.Background(), "echo hi", EnqueueOpts{
		Delay: time.Second,
		RunAt: time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestEnqueueUsesConfigDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 2.0, job.BaseBackoff)
	assert.Equal(t, 30, job.TimeoutSeconds)
	assert.Equal(t, 0, job.Attempts)
}

func TestClaimIsExclusive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)

	got, err := s.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, StateProcessing, got.State)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "worker-a", *got.LockedBy)

	again, err := s.Claim(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestClaimRespectsPriorityThenCreatedAt(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "echo LOW", EnqueueOpts{Priority: 1})
	require.NoError(t, err)
	fc.advance(time.Second)
	highID, err := s.Enqueue(ctx, "echo HIGH", EnqueueOpts{Priority: 10})
	require.NoError(t, err)

	got, err := s.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, highID, got.ID)
}

func TestClaimSkipsFutureScheduledJobs(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "echo FUTURE", EnqueueOpts{RunAt: fc.Now().Add(time.Hour)})
	require.NoError(t, err)

	got, err := s.Claim(ctx, "worker-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteSuccessClearsLeaseAndCompletes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, s.WriteSuccess(ctx, id, "hi\n", 50*time.Millisecond))

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Nil(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
	require.NotNil(t, job.LastOutput)
	assert.Equal(t, "hi\n", *job.LastOutput)
	require.NotNil(t, job.DurationSeconds)
	assert.InDelta(t, 0.05, *job.DurationSeconds, 0.001)
}

func TestWriteFailureRetriesWithBackoffAndFixedMessage(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()
	two := 2.0
	maxRetries := 5
	id, err := s.Enqueue(ctx, "false", EnqueueOpts{BaseBackoff: &two, MaxRetries: &maxRetries})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, s.WriteFailure(ctx, id, "boom", 10*time.Millisecond))

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Equal(t, JobFailedMessage, *job.LastError)
	assert.Nil(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
	// backoff = 2^1 = 2s from the fake clock's current instant.
	assert.Equal(t, fc.Now().Add(2*time.Second), job.NextRunAt)
}

func TestWriteFailureMovesToDeadAfterMaxRetries(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	zero := 0
	id, err := s.Enqueue(ctx, "false", EnqueueOpts{MaxRetries: &zero})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, s.WriteFailure(ctx, id, "boom", 10*time.Millisecond))

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateDead, job.State)
	require.NotNil(t, job.LastError)
	assert.Equal(t, MaxRetriesExceededMessage, *job.LastError)
	assert.Nil(t, job.LockedBy)
}

func TestRecoverStuckResetsStaleProcessingJobs(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	fc.advance(10 * time.Minute)

	ids, err := s.RecoverStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Nil(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
}

func TestRecoverStuckLeavesFreshLeasesAlone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	ids, err := s.RecoverStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, job.State)
}

func TestRetryDeadReArmsAndResetsAttempts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	zero := 0
	id, err := s.Enqueue(ctx, "false", EnqueueOpts{MaxRetries: &zero})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, s.WriteFailure(ctx, id, "boom", time.Millisecond))

	require.NoError(t, s.RetryDead(ctx, id))

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.Nil(t, job.LastError)
}

func TestRetryDeadOnNonDeadJobIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)

	err = s.RetryDead(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCountsAggregatesByState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, "echo a", EnqueueOpts{})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "echo b", EnqueueOpts{})
	require.NoError(t, err)

	stats, err := s.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}

func TestConfigGetSetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetConfigValue(ctx, "max_retries", "9"))
	v, err := s.GetConfigValue(ctx, "max_retries")
	require.NoError(t, err)
	assert.Equal(t, "9", v)
}

func TestOutputIsTruncatedToMaxBytes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, err := s.Enqueue(ctx, "echo hi", EnqueueOpts{})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "worker-a")
	require.NoError(t, err)

	huge := make([]byte, maxOutputBytes+500)
	for i := range huge {
		huge[i] = 'x'
	}
	require.NoError(t, s.WriteSuccess(ctx, id, string(huge), time.Millisecond))

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.LastOutput)
	assert.Len(t, *job.LastOutput, maxOutputBytes)
}
