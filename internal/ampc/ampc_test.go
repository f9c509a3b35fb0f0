package ampc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTables is a minimal DhtTables carrying a shared counter, standing in
// for a real DHT-table view so the round protocol can be exercised without
// a network.
type fakeTables struct {
	mu    sync.Mutex
	total int
}

func (t *fakeTables) add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

func (t *fakeTables) get() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// fakeWorker executes a scheduled task's Map to completion synchronously
// inside ScheduleJob (so assertions on the shared tables after Run
// returns are race-free) but still reports busy for one CurrentJob poll
// afterwards, exercising the coordinator's poll-to-idle loop.
type fakeWorker struct {
	addr string

	mu         sync.Mutex
	setupCalls int
	busyTicks  int
	failSetup  bool
	failSched  bool
}

func (w *fakeWorker) Addr() string { return w.addr }

func (w *fakeWorker) Setup(_ context.Context, _ DhtTables) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setupCalls++
	if w.failSetup {
		return fmt.Errorf("setup refused")
	}
	return nil
}

func (w *fakeWorker) ScheduleJob(ctx context.Context, mapper Mapper) error {
	w.mu.Lock()
	if w.failSched {
		w.mu.Unlock()
		return fmt.Errorf("schedule refused")
	}
	w.busyTicks = 1
	w.mu.Unlock()

	return mapper.Map(ctx, nil)
}

func (w *fakeWorker) CurrentJob(_ context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busyTicks > 0 {
		w.busyTicks--
		return true, nil
	}
	return false, nil
}

// countingFinisher terminates after a fixed number of rounds, handing out
// the same mappersEach for every further round.
type countingFinisher struct {
	tables      *fakeTables
	roundsLeft  int
	mappersEach []Mapper
}

func (f *countingFinisher) Finished(_ context.Context, _ DhtTables) (bool, []Mapper, error) {
	f.roundsLeft--
	if f.roundsLeft <= 0 {
		return true, nil, nil
	}
	return false, f.mappersEach, nil
}

type fakeJob struct {
	tables   *fakeTables
	finisher Finisher
	initial  []Mapper
}

func (j *fakeJob) Tables() DhtTables      { return j.tables }
func (j *fakeJob) Finisher() Finisher     { return j.finisher }
func (j *fakeJob) InitialMappers() []Mapper { return j.initial }

func taskMapper(tables *fakeTables) []Mapper {
	return []Mapper{&tablesWriter{tables: tables, amount: 1}}
}

// tablesWriter ignores the DhtTables handed to Map (a real Job's tables are
// closed over instead, as the interface is opaque) and writes to the fixed
// table it was built with, matching how a real Mapper captures its target
// tables at construction time.
type tablesWriter struct {
	tables *fakeTables
	amount int
}

func (m *tablesWriter) Map(_ context.Context, _ DhtTables) error {
	m.tables.add(m.amount)
	return nil
}

func TestCoordinatorRunsRoundsUntilFinisherDone(t *testing.T) {
	tables := &fakeTables{}
	w1 := &fakeWorker{addr: "w1"}
	w2 := &fakeWorker{addr: "w2"}

	finisher := &countingFinisher{tables: tables, roundsLeft: 3, mappersEach: taskMapper(tables)}
	job := &fakeJob{tables: tables, finisher: finisher, initial: taskMapper(tables)}

	coord := NewCoordinator([]Worker{w1, w2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := coord.Run(ctx, job)
	require.NoError(t, err)

	require.Equal(t, 1, w1.setupCalls)
	require.Equal(t, 1, w2.setupCalls)
	// setupAll must not re-Setup a worker across rounds.
}

func TestCoordinatorRemovesWorkerThatFailsSchedule(t *testing.T) {
	tables := &fakeTables{}
	bad := &fakeWorker{addr: "bad", failSched: true}
	good := &fakeWorker{addr: "good"}

	finisher := &countingFinisher{tables: tables, roundsLeft: 1}
	job := &fakeJob{tables: tables, finisher: finisher, initial: taskMapper(tables)}

	coord := NewCoordinator([]Worker{bad, good}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := coord.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 1, tables.get(), "task must land on the surviving worker exactly once")
}

func TestCoordinatorPropagatesSetupFailure(t *testing.T) {
	tables := &fakeTables{}
	w := &fakeWorker{addr: "w", failSetup: true}
	finisher := &countingFinisher{tables: tables, roundsLeft: 1}
	job := &fakeJob{tables: tables, finisher: finisher, initial: nil}

	coord := NewCoordinator([]Worker{w}, nil)
	err := coord.Run(context.Background(), job)
	require.Error(t, err)
}

func TestCoordinatorCancellationStopsNewRounds(t *testing.T) {
	tables := &fakeTables{}
	w := &fakeWorker{addr: "w"}
	finisher := &countingFinisher{tables: tables, roundsLeft: 1000}
	job := &fakeJob{tables: tables, finisher: finisher, initial: taskMapper(tables)}

	coord := NewCoordinator([]Worker{w}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := coord.Run(ctx, job)
	require.Error(t, err)
}
