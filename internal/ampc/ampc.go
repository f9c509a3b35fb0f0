// Package ampc implements a job-execution framework: a coordinator that
// drives rounds of a user-supplied Job across a fleet of Workers sharing
// state through one or more DHT tables, with a Finisher
// deciding when a round, and the job, is complete.
package ampc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DhtTables bundles the DHT table handles a Job reads and writes. It is
// opaque to the framework (each Job defines its own concrete type) and
// is handed to every worker via Setup and to the Finisher every round.
type DhtTables interface{}

// Mapper is the per-task payload sent to a worker to parameterize one unit
// of work. A Job produces one or more Mappers per round.
type Mapper interface {
	// Map executes this task against the worker's installed DHT view.
	// Implementations must be idempotent with respect to the tables they
	// write, either because they use a commutative-associative upsert or
	// because their output keys are deterministic, since the coordinator may retry a task on another worker.
	Map(ctx context.Context, tables DhtTables) error
}

// Worker carries per-worker state and executes the control menu the
// coordinator drives it with: Setup, ScheduleJob, CurrentJob.
type Worker interface {
	// Addr identifies this worker for logging and for removal from the
	// round's available pool on failure.
	Addr() string
	// Setup installs the DHT view this worker's tasks will read/write.
	// The coordinator calls this once per worker per job, skipping
	// workers that already have it.
	Setup(ctx context.Context, tables DhtTables) error
	// ScheduleJob hands the worker one task. It must return immediately;
	// the task runs to completion asynchronously and the worker reports
	// idle again via CurrentJob once it finishes.
	ScheduleJob(ctx context.Context, mapper Mapper) error
	// CurrentJob reports whether the worker is still executing a task.
	CurrentJob(ctx context.Context) (busy bool, err error)
}

// Finisher is the per-job predicate evaluated once per round: it reads
// aggregate state from the DHT and either terminates the job or returns
// the mappers for another round.
type Finisher interface {
	// Finished inspects tables and reports whether the job is complete.
	// If not, nextRound holds the mappers for the next round.
	Finished(ctx context.Context, tables DhtTables) (done bool, nextRound []Mapper, err error)
}

// Job bundles everything one AMPC computation needs: the shared DHT view,
// the finisher that ends it, and the mappers the first round schedules.
type Job interface {
	Tables() DhtTables
	Finisher() Finisher
	InitialMappers() []Mapper
}

// schedulePollInterval is how often the coordinator polls CurrentJob while
// waiting for a round's workers to go idle.
const schedulePollInterval = 20 * time.Millisecond

// Coordinator drives a Job's rounds across a fixed worker fleet: setup,
// schedule, poll-to-idle, ask the finisher, repeat.
type Coordinator struct {
	workers []Worker
	log     *zap.SugaredLogger

	mu       sync.Mutex
	setupDone map[string]bool
}

// NewCoordinator builds a Coordinator over a fixed fleet of workers.
func NewCoordinator(workers []Worker, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Coordinator{workers: workers, log: log, setupDone: make(map[string]bool)}
}

// noWorkerBackoff is the bounded schedule the coordinator parks on when no
// worker is idle, rather than busy-looping.
func noWorkerBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0 // the coordinator itself bounds total wait via ctx
	return b
}

// Run drives job to completion: setup, then rounds of schedule/poll/ask
// until the finisher reports done or ctx is cancelled. Cancelling ctx lets
// in-flight worker tasks complete but stops scheduling new ones.
func (c *Coordinator) Run(ctx context.Context, job Job) error {
	// jobID correlates every log line this run emits across workers and
	// rounds.
	jobID := uuid.New().String()
	log := c.log.With("job_id", jobID)

	if err := c.setupAll(ctx, job.Tables()); err != nil {
		return err
	}

	mappers := job.InitialMappers()
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debugw("ampc: starting round", "round", round, "tasks", len(mappers))
		if err := c.runRound(ctx, mappers); err != nil {
			return err
		}

		done, next, err := job.Finisher().Finished(ctx, job.Tables())
		if err != nil {
			return fmt.Errorf("ampc: finisher: %w", err)
		}
		if done {
			log.Debugw("ampc: job finished", "rounds", round)
			return nil
		}
		mappers = next
	}
}

// setupAll calls Setup on every worker that has not yet received it for
// this coordinator instance.
func (c *Coordinator) setupAll(ctx context.Context, tables DhtTables) error {
	for _, w := range c.workers {
		c.mu.Lock()
		done := c.setupDone[w.Addr()]
		c.mu.Unlock()
		if done {
			continue
		}
		if err := w.Setup(ctx, tables); err != nil {
			return fmt.Errorf("ampc: setup worker %s: %w", w.Addr(), err)
		}
		c.mu.Lock()
		c.setupDone[w.Addr()] = true
		c.mu.Unlock()
	}
	return nil
}

type jobScheduled int

const (
	scheduledSuccess jobScheduled = iota
	scheduledNoAvailableWorkers
)

// runRound schedules every mapper onto an idle worker, retrying on another
// worker when ScheduleJob fails or the assigned worker times out, then polls until every worker is idle again.
func (c *Coordinator) runRound(ctx context.Context, mappers []Mapper) error {
	pending := append([]Mapper{}, mappers...)
	removed := make(map[string]bool)

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		task := pending[0]

		result, worker := c.scheduleOnIdleWorker(ctx, task, removed)
		switch result {
		case scheduledSuccess:
			pending = pending[1:]
			c.log.Debugw("ampc: scheduled task", "worker", worker.Addr())
		case scheduledNoAvailableWorkers:
			b := noWorkerBackoff()
			d := b.NextBackOff()
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return c.pollUntilIdle(ctx, removed)
}

// scheduleOnIdleWorker tries every worker not already removed from this
// round's pool, scheduling task on the first one that is idle and accepts
// it. A worker whose ScheduleJob call fails is removed from the pool for
// the rest of the round.
func (c *Coordinator) scheduleOnIdleWorker(ctx context.Context, task Mapper, removed map[string]bool) (jobScheduled, Worker) {
	for _, w := range c.workers {
		if removed[w.Addr()] {
			continue
		}
		busy, err := w.CurrentJob(ctx)
		if err != nil {
			c.log.Warnw("ampc: worker unreachable, removing from round", "worker", w.Addr(), "err", err)
			removed[w.Addr()] = true
			continue
		}
		if busy {
			continue
		}
		if err := w.ScheduleJob(ctx, task); err != nil {
			c.log.Warnw("ampc: schedule failed, removing worker from round", "worker", w.Addr(), "err", err)
			removed[w.Addr()] = true
			continue
		}
		return scheduledSuccess, w
	}
	return scheduledNoAvailableWorkers, nil
}

// pollUntilIdle waits for every non-removed worker to report idle.
func (c *Coordinator) pollUntilIdle(ctx context.Context, removed map[string]bool) error {
	for {
		allIdle := true
		for _, w := range c.workers {
			if removed[w.Addr()] {
				continue
			}
			busy, err := w.CurrentJob(ctx)
			if err != nil {
				removed[w.Addr()] = true
				continue
			}
			if busy {
				allIdle = false
			}
		}
		if allIdle {
			return nil
		}
		select {
		case <-time.After(schedulePollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
