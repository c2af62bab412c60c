// Package queue implements the durable job queue backing all background
// work: bulk lead uploads and assignments, the follow-up reminder scan,
// email dispatch, and notification cleanup.
//
// Jobs live in a jobs table. Enqueue writes a row; workers claim due rows
// with FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
// Retry policy (attempt cap, exponential backoff) and repeat scheduling are
// properties of the job row itself. A stable JobID deduplicates enqueues,
// which makes repeat-schedule registration idempotent across deploys.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"estatecrm/internal/db"
	"estatecrm/internal/types"
)

// JobStatus tracks a job row through the queue.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	// JobDead marks a job that exhausted its attempts or failed permanently.
	JobDead JobStatus = "dead"
)

// Job is one unit of queued work. Payload is the JSON encoding of the
// payload struct matching Name (see types/messaging.go).
type Job struct {
	ID          string
	Name        types.JobName
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	BackoffBase time.Duration
	RunAt       time.Time
	RepeatEvery time.Duration
	DedupKey    string
	LastError   string
	CreatedAt   time.Time
}

// Backoff defines the exponential backoff parameters for job retries:
// delay = min(BaseDelay * Factor^(attempt-1), MaxDelay).
type Backoff struct {
	BaseDelay time.Duration
	Factor    float64
	MaxDelay  time.Duration
}

// DefaultBackoff is the queue's standard retry backoff.
var DefaultBackoff = Backoff{
	BaseDelay: 2 * time.Second,
	Factor:    2.0,
	MaxDelay:  15 * time.Minute,
}

// claimLease bounds how long a claimed job may sit in 'running'. A worker
// that dies mid-job leaves its row running with a stale updated_at; once the
// lease lapses any worker may reclaim the row, so no job (the repeating
// schedules included) is lost to a crash. The reclaimed run counts as an
// attempt, and delivery is at-least-once: handlers must tolerate the rare
// second execution after a crash.
const claimLease = 10 * time.Minute

// Delay computes the backoff delay before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.Factor
	}
	d := time.Duration(delay)
	if d > b.MaxDelay || d < 0 {
		// The < 0 branch guards against overflow.
		d = b.MaxDelay
	}
	return d
}

// Options control how a job is enqueued.
type Options struct {
	// Attempts is the maximum number of handler runs. Defaults to 3.
	Attempts int
	// Backoff overrides DefaultBackoff when BaseDelay is non-zero.
	Backoff Backoff
	// Delay postpones the first run.
	Delay time.Duration
	// RepeatEvery re-arms the job after every successful (or exhausted)
	// run. Repeating jobs never complete.
	RepeatEvery time.Duration
	// JobID deduplicates: enqueueing the same JobID again updates the
	// existing row's schedule instead of inserting a duplicate.
	JobID string
}

// Enqueuer is the narrow interface services use to put work on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name types.JobName, payload any, opts Options) (string, error)
}

// Queue is the Postgres-backed durable queue.
type Queue struct {
	db     db.DBTX
	clock  types.Clock
	logger types.Logger
}

// New creates a Queue.
func New(dbtx db.DBTX, clock types.Clock, logger types.Logger) *Queue {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Queue{db: dbtx, clock: clock, logger: logger}
}

// Enqueue puts a job on the queue and returns its id.
//
// With a stable Options.JobID the enqueue is idempotent: a conflicting row
// keeps its identity and only has its schedule refreshed, so re-registering
// the repeating jobs on deploy never creates duplicate entries.
func (q *Queue) Enqueue(ctx context.Context, name types.JobName, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationBadPayload, "failed to marshal job payload", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff.BaseDelay == 0 {
		backoff = DefaultBackoff
	}

	now := q.clock.Now()
	runAt := now.Add(opts.Delay)
	id := "job_" + uuid.NewString()

	if opts.JobID != "" {
		// Dedup path: refresh the existing row's settings, keep its id. A
		// row that already finished (completed or dead) is revived onto the
		// new schedule; a live row keeps its status, attempts and run_at so
		// re-registration never clobbers an in-flight run or a pending
		// retry.
		row := q.db.QueryRow(ctx,
			`INSERT INTO jobs
			 (id, name, payload, status, attempts, max_attempts, backoff_base_ms,
			  run_at, repeat_every_ms, dedup_key, created_at, updated_at)
			 VALUES ($1, $2, $3, 'queued', 0, $4, $5, $6, $7, $8, $9, $9)
			 ON CONFLICT (dedup_key) DO UPDATE SET
				payload = EXCLUDED.payload,
				max_attempts = EXCLUDED.max_attempts,
				backoff_base_ms = EXCLUDED.backoff_base_ms,
				repeat_every_ms = EXCLUDED.repeat_every_ms,
				status = CASE WHEN jobs.status IN ('completed', 'dead')
					THEN 'queued' ELSE jobs.status END,
				attempts = CASE WHEN jobs.status IN ('completed', 'dead')
					THEN 0 ELSE jobs.attempts END,
				run_at = CASE WHEN jobs.status IN ('completed', 'dead')
					THEN EXCLUDED.run_at ELSE jobs.run_at END,
				last_error = CASE WHEN jobs.status IN ('completed', 'dead')
					THEN NULL ELSE jobs.last_error END,
				updated_at = EXCLUDED.updated_at
			 RETURNING id`,
			id, string(name), body, attempts, backoff.BaseDelay.Milliseconds(),
			runAt, opts.RepeatEvery.Milliseconds(), opts.JobID, now,
		)
		if err := row.Scan(&id); err != nil {
			return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue deduplicated job", err)
		}
		q.logger.Info("job enqueued",
			"job_id", id,
			"job_name", string(name),
			"dedup_key", opts.JobID,
			"run_at", runAt.Format(time.RFC3339),
		)
		return id, nil
	}

	_, err = q.db.Exec(ctx,
		`INSERT INTO jobs
		 (id, name, payload, status, attempts, max_attempts, backoff_base_ms,
		  run_at, repeat_every_ms, dedup_key, created_at, updated_at)
		 VALUES ($1, $2, $3, 'queued', 0, $4, $5, $6, $7, NULL, $8, $8)`,
		id, string(name), body, attempts, backoff.BaseDelay.Milliseconds(),
		runAt, opts.RepeatEvery.Milliseconds(), now,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue job", err)
	}

	q.logger.Info("job enqueued",
		"job_id", id,
		"job_name", string(name),
		"run_at", runAt.Format(time.RFC3339),
	)
	return id, nil
}

// claimNext claims one due job for execution. Uses SKIP LOCKED so parallel
// workers each claim distinct rows. Besides due queued rows it also reclaims
// running rows whose lease has lapsed (see claimLease), which is what
// recovers jobs a crashed worker left behind. Returns nil when nothing is
// due.
func (q *Queue) claimNext(ctx context.Context) (*Job, error) {
	now := q.clock.Now()
	row := q.db.QueryRow(ctx,
		`UPDATE jobs SET
			status = 'running',
			attempts = attempts + 1,
			updated_at = $1
		 WHERE id = (
			SELECT id FROM jobs
			WHERE (status = 'queued' AND run_at <= $1)
			   OR (status = 'running' AND updated_at <= $2)
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, name, payload, status, attempts, max_attempts,
		           backoff_base_ms, run_at, repeat_every_ms,
		           COALESCE(dedup_key, ''), COALESCE(last_error, ''), created_at`,
		now, now.Add(-claimLease),
	)

	var (
		j         Job
		name      string
		status    string
		backoffMs int64
		repeatMs  int64
	)
	err := row.Scan(&j.ID, &name, &j.Payload, &status, &j.Attempts,
		&j.MaxAttempts, &backoffMs, &j.RunAt, &repeatMs, &j.DedupKey,
		&j.LastError, &j.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to claim job", err)
	}
	j.Name = types.JobName(name)
	j.Status = JobStatus(status)
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	j.RepeatEvery = time.Duration(repeatMs) * time.Millisecond
	return &j, nil
}

// complete finishes a successfully-handled job. Repeating jobs are re-armed
// at their next interval with a reset attempt counter; one-shot jobs are
// marked completed.
func (q *Queue) complete(ctx context.Context, j *Job) error {
	now := q.clock.Now()
	if j.RepeatEvery > 0 {
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET status = 'queued', attempts = 0, last_error = NULL,
				run_at = $2, updated_at = $3
			 WHERE id = $1`,
			j.ID, now.Add(j.RepeatEvery), now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to re-arm repeating job", err)
		}
		return nil
	}

	_, err := q.db.Exec(ctx,
		`UPDATE jobs SET status = 'completed', last_error = NULL, updated_at = $2
		 WHERE id = $1`,
		j.ID, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to complete job", err)
	}
	return nil
}

// fail records a handler failure. Retriable failures with attempts left go
// back to queued with exponential backoff; everything else goes dead.
// Repeating jobs are the exception: they always re-arm for their next
// interval.
func (q *Queue) fail(ctx context.Context, j *Job, handlerErr error) error {
	now := q.clock.Now()
	backoff := Backoff{BaseDelay: j.BackoffBase, Factor: DefaultBackoff.Factor, MaxDelay: DefaultBackoff.MaxDelay}
	if backoff.BaseDelay == 0 {
		backoff = DefaultBackoff
	}

	retriable := types.IsRetriable(handlerErr)

	switch {
	case retriable && j.Attempts < j.MaxAttempts:
		runAt := now.Add(backoff.Delay(j.Attempts))
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET status = 'queued', last_error = $2, run_at = $3, updated_at = $4
			 WHERE id = $1`,
			j.ID, handlerErr.Error(), runAt, now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to schedule job retry", err)
		}
		q.logger.Warn("job failed, retry scheduled",
			"job_id", j.ID,
			"job_name", string(j.Name),
			"attempt", j.Attempts,
			"max_attempts", j.MaxAttempts,
			"next_run_at", runAt.Format(time.RFC3339),
			"error", handlerErr.Error(),
		)
		return nil

	case j.RepeatEvery > 0:
		// A repeating job never dies; it just waits for its next tick.
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET status = 'queued', attempts = 0, last_error = $2,
				run_at = $3, updated_at = $4
			 WHERE id = $1`,
			j.ID, handlerErr.Error(), now.Add(j.RepeatEvery), now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to re-arm failed repeating job", err)
		}
		q.logger.Error("repeating job run failed, re-armed",
			"job_id", j.ID,
			"job_name", string(j.Name),
			"error", handlerErr.Error(),
		)
		return nil

	default:
		_, err := q.db.Exec(ctx,
			`UPDATE jobs SET status = 'dead', last_error = $2, updated_at = $3
			 WHERE id = $1`,
			j.ID, handlerErr.Error(), now,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to mark job dead", err)
		}
		q.logger.Error("job permanently failed",
			"job_id", j.ID,
			"job_name", string(j.Name),
			"attempts", j.Attempts,
			"retriable", retriable,
			"error", handlerErr.Error(),
		)
		return nil
	}
}

// isNoRows reports whether err is the driver's no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
