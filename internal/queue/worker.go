package queue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"estatecrm/internal/types"
)

// Handler executes one claimed job. Returning an error hands the job to the
// queue's retry policy (see fail); returning nil completes or re-arms it.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// Metrics is the subset of telemetry the worker pool emits.
type Metrics interface {
	RecordJob(ctx context.Context, name types.JobName, success bool, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// Pool runs a fixed number of workers against the queue. Concurrency across
// jobs is the unit of parallelism: each worker handles one job at a time,
// and a handler's internal batch loop stays sequential within that job.
type Pool struct {
	queue        *Queue
	handler      Handler
	metrics      Metrics
	workers      int
	pollInterval time.Duration
	logger       types.Logger
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Queue        *Queue
	Handler      Handler
	Metrics      Metrics
	Workers      int
	PollInterval time.Duration
	Logger       types.Logger
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Pool{
		queue:        cfg.Queue,
		handler:      cfg.Handler,
		metrics:      cfg.Metrics,
		workers:      workers,
		pollInterval: poll,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled, running the worker goroutines. It
// returns the first non-context error a worker loop dies with, nil on clean
// shutdown.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			return p.workerLoop(ctx, workerID)
		})
	}

	p.logger.Info("worker pool started", "workers", p.workers)

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// Cancellation is a clean shutdown, not a failure.
		err = nil
	}
	p.logger.Info("worker pool stopped")
	return err
}

// workerLoop claims and processes jobs until ctx is cancelled. Claim errors
// (store unavailable) back off on the poll interval rather than killing the
// worker; the surrounding infrastructure may be mid-failover.
func (p *Pool) workerLoop(ctx context.Context, workerID int) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		job, err := p.queue.claimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("failed to claim job", "worker", workerID, "error", err.Error())
		} else if job != nil {
			p.process(ctx, workerID, job)
			// Immediately look for the next job while the queue is hot.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// process runs one job through the handler and records the outcome.
// A handler panic is contained to the job: it is recovered, logged, and
// treated as a failed attempt.
func (p *Pool) process(ctx context.Context, workerID int, job *Job) {
	start := p.queue.clock.Now()
	logger := p.logger.With(
		"worker", workerID,
		"job_id", job.ID,
		"job_name", string(job.Name),
		"attempt", job.Attempts,
	)
	logger.Info("job started")

	if p.metrics != nil {
		p.metrics.RecordQueueLag(ctx, start.Sub(job.RunAt))
	}

	err := p.runHandler(ctx, job)
	duration := p.queue.clock.Now().Sub(start)

	if p.metrics != nil {
		p.metrics.RecordJob(ctx, job.Name, err == nil, duration)
	}

	if err != nil {
		if failErr := p.queue.fail(ctx, job, err); failErr != nil {
			logger.Error("failed to record job failure", "error", failErr.Error())
		}
		return
	}

	if completeErr := p.queue.complete(ctx, job); completeErr != nil {
		logger.Error("failed to record job completion", "error", completeErr.Error())
		return
	}
	logger.Info("job finished", "duration_ms", duration.Milliseconds())
}

// runHandler invokes the handler with panic containment.
func (p *Pool) runHandler(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}
