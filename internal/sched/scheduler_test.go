package sched

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrsched/internal/eventbus"
	"rrsched/internal/proc"
	"rrsched/internal/proc/proctest"
	"rrsched/internal/registry"
	"rrsched/internal/timer"
)

const q = 100 * time.Millisecond

type fixture struct {
	sp    *proctest.Spawner
	reg   *registry.Registry
	timer *timer.Manual
	s     *Scheduler
}

func newFixture(t *testing.T, totals ...time.Duration) *fixture {
	t.Helper()
	sp := &proctest.Spawner{}
	reg := registry.New(sp, 0)
	for _, total := range totals {
		_, err := reg.Register(context.Background(), total)
		require.NoError(t, err)
	}
	tm := timer.NewManual()
	return &fixture{
		sp:    sp,
		reg:   reg,
		timer: tm,
		s:     New(reg, tm, Config{Quantum: q, ReapTimeout: 20 * time.Millisecond, RunID: "test"}),
	}
}

// drive ticks until HALTED and returns every non-noop transition.
func (f *fixture) drive(t *testing.T) []Transition {
	t.Helper()
	require.NoError(t, f.s.Start())
	var out []Transition
	for i := 0; !f.s.Halted(); i++ {
		require.Less(t, i, 10_000, "scheduler never halted")
		tr := f.s.Tick()
		require.NotEqual(t, KindNoop, tr.Kind)
		out = append(out, tr)
		assertOneActive(t, f.s)
	}
	return out
}

func charged(trs []Transition) []int {
	out := make([]int, 0, len(trs))
	for _, tr := range trs {
		out = append(out, tr.Worker)
	}
	return out
}

func assertOneActive(t *testing.T, s *Scheduler) {
	t.Helper()
	active := 0
	for _, rec := range s.Records() {
		switch rec.State {
		case registry.Active:
			active++
			assert.Same(t, s.Cursor(), rec)
		case registry.Finished:
			t.Fatalf("finished worker %d still queued", rec.ID)
		}
	}
	if s.Halted() {
		assert.Zero(t, active)
		return
	}
	assert.Equal(t, 1, active, "exactly one worker must be active")
}

func TestRotationOrderEqualRuntimes(t *testing.T) {
	f := newFixture(t, 2*q, 2*q, 2*q)
	trs := f.drive(t)

	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, charged(trs))
	kinds := make([]Kind, 0, len(trs))
	for _, tr := range trs {
		kinds = append(kinds, tr.Kind)
	}
	assert.Equal(t, []Kind{KindPaused, KindPaused, KindPaused, KindFinished, KindFinished, KindHalted}, kinds)
	assert.False(t, f.timer.Armed())
}

func TestRemovalNeverSkipsNextWorker(t *testing.T) {
	f := newFixture(t, q, 2*q, 2*q)
	trs := f.drive(t)

	require.Len(t, trs, 5)
	assert.Equal(t, []int{1, 2, 3, 2, 3}, charged(trs))
	assert.Equal(t, KindFinished, trs[0].Kind)
	assert.Equal(t, 2, trs[0].Next, "cursor lands on the worker after the removed one")
	assert.Equal(t, q, trs[1].Remaining)
	assert.Equal(t, q, trs[2].Remaining)
	assert.Equal(t, KindHalted, trs[4].Kind)
}

func TestRemovalAtTailWrapsToHead(t *testing.T) {
	f := newFixture(t, 2*q, 2*q, q)
	trs := f.drive(t)

	// worker 3 finishes at the tail on firing 3; the head runs next.
	assert.Equal(t, []int{1, 2, 3, 1, 2}, charged(trs))
	assert.Equal(t, 1, trs[2].Next)
}

func TestSingleWorkerRotatesToItself(t *testing.T) {
	f := newFixture(t, 3*q)
	require.NoError(t, f.s.Start())
	only := f.s.Cursor()

	for i := 0; i < 2; i++ {
		tr := f.s.Tick()
		assert.Equal(t, KindPaused, tr.Kind)
		assert.Equal(t, 1, tr.Next)
		assert.Same(t, only, f.s.Cursor())
		assert.Equal(t, registry.Active, only.State)
	}
	assert.Equal(t, KindHalted, f.s.Tick().Kind)

	pid := f.sp.Procs()[0].PID()
	want := []proctest.Call{
		{PID: pid, Op: "start"},
		{PID: pid, Op: "pause"}, {PID: pid, Op: "resume"},
		{PID: pid, Op: "pause"}, {PID: pid, Op: "resume"},
		{PID: pid, Op: "terminate"},
	}
	assert.Equal(t, want, f.sp.Calls())
}

func TestChargesOnlyActiveWorkerInQuantumSteps(t *testing.T) {
	f := newFixture(t, 3*q, q+q/2, 2*q)
	require.NoError(t, f.s.Start())

	last := map[int]time.Duration{}
	for _, rec := range f.s.Records() {
		last[rec.ID] = rec.Remaining
	}
	for !f.s.Halted() {
		active := f.s.Cursor().ID
		tr := f.s.Tick()
		require.Equal(t, active, tr.Worker)
		assert.Equal(t, last[active]-q, tr.Remaining)
		last[active] = tr.Remaining
		for _, rec := range f.s.Records() {
			if rec.ID != active {
				assert.Equal(t, last[rec.ID], rec.Remaining, "idle worker %d was charged", rec.ID)
			}
		}
	}
}

func TestTerminatesAfterCeilChargesPerWorker(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		n := 1 + rng.Intn(6)
		totals := make([]time.Duration, n)
		want := map[int]int{}
		sum := 0
		for i := range totals {
			totals[i] = time.Duration(1+rng.Intn(1000)) * time.Millisecond
			c := int((totals[i] + q - 1) / q)
			want[i+1] = c
			sum += c
		}
		f := newFixture(t, totals...)
		trs := f.drive(t)

		require.Len(t, trs, sum)
		got := map[int]int{}
		for _, tr := range trs {
			got[tr.Worker]++
		}
		assert.Equal(t, want, got, "totals %v", totals)
		for _, p := range f.sp.Procs() {
			assert.True(t, p.Exited())
		}
	}
}

func TestHaltIsIdempotent(t *testing.T) {
	f := newFixture(t, q)
	f.drive(t)
	calls := len(f.sp.Calls())

	for i := 0; i < 3; i++ {
		assert.Equal(t, KindNoop, f.s.Tick().Kind)
	}
	assert.True(t, f.s.Halted())
	assert.Nil(t, f.s.Cursor())
	assert.Empty(t, f.s.Records())
	assert.Len(t, f.sp.Calls(), calls, "stray firings must not signal anyone")
}

func TestEmptyQueueHaltsAtStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Start())
	assert.True(t, f.s.Halted())
	assert.False(t, f.timer.Armed())
	assert.Equal(t, KindNoop, f.s.Tick().Kind)
	assert.Error(t, f.s.Start(), "second Start is rejected")
}

func TestPauseFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, 2*q, 2*q)
	f.sp.Procs()[0].FailPause = proctest.ErrInjected
	require.NoError(t, f.s.Start())

	tr := f.s.Tick()
	assert.Equal(t, KindPaused, tr.Kind)
	require.Len(t, tr.Errs, 1)
	assert.True(t, errors.Is(tr.Errs[0], proc.ErrSignal))
	assert.Equal(t, 2, tr.Next)

	for !f.s.Halted() {
		f.s.Tick()
	}
}

func TestVanishedWorkerStillRemoved(t *testing.T) {
	f := newFixture(t, 2*q, 2*q)
	require.NoError(t, f.s.Start())
	f.sp.Procs()[1].Exit() // worker 2 dies while paused

	tr := f.s.Tick() // charge 1, resume 2 -> fails with ErrGone
	require.Len(t, tr.Errs, 1)
	assert.True(t, errors.Is(tr.Errs[0], proc.ErrGone))
	assert.Equal(t, registry.Active, f.s.Cursor().State)

	trs := []Transition{tr}
	for !f.s.Halted() {
		trs = append(trs, f.s.Tick())
	}
	assert.Equal(t, []int{1, 2, 1, 2}, charged(trs))
}

func TestReapTimeoutTreatsWorkerAsFinished(t *testing.T) {
	f := newFixture(t, q, q)
	f.sp.Procs()[0].HangOnTerminate = true
	require.NoError(t, f.s.Start())

	tr := f.s.Tick()
	assert.Equal(t, KindFinished, tr.Kind)
	require.NotEmpty(t, tr.Errs)
	assert.ErrorIs(t, tr.Errs[len(tr.Errs)-1], context.DeadlineExceeded)
	assert.Len(t, f.s.Records(), 1)
	assert.Equal(t, 2, f.s.Cursor().ID)
}

func TestRunHaltsOnManualTicks(t *testing.T) {
	f := newFixture(t, q, 2*q, 2*q)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			require.NoError(t, f.reg.Join(ctx))
			assert.Zero(t, f.reg.Live())
			return
		default:
			f.timer.Fire()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunWithRealTicker(t *testing.T) {
	sp := &proctest.Spawner{}
	reg := registry.New(sp, 0)
	require.NoError(t, reg.Populate(context.Background(), 3, 6*time.Millisecond))
	s := New(reg, timer.NewTicker(), Config{Quantum: 2 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.True(t, s.Halted())
	assert.NoError(t, reg.Join(ctx))
}

func TestRunTimerSetupFailureAbortsWorkers(t *testing.T) {
	f := newFixture(t, q, q)
	f.timer.FailArm = true

	err := f.s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, timer.ErrTimerSetup)
	for _, p := range f.sp.Procs() {
		assert.True(t, p.Exited())
	}
}

func TestRunCancelTerminatesWorkers(t *testing.T) {
	f := newFixture(t, 10*q, 10*q)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	require.Eventually(t, f.timer.Armed, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, f.reg.Live())
	assert.False(t, f.timer.Armed())
}

func TestStrayFiringAfterHaltInRunLoop(t *testing.T) {
	f := newFixture(t, q)
	require.NoError(t, f.s.Start())
	require.Equal(t, KindHalted, f.s.Tick().Kind)

	f.timer.Stray()
	assert.Equal(t, KindNoop, f.s.Tick().Kind)
	assert.True(t, f.s.Halted())
}

func TestPublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	sp := &proctest.Spawner{}
	reg := registry.New(sp, 0)
	require.NoError(t, reg.Populate(context.Background(), 2, q))
	s := New(reg, timer.NewManual(), Config{Quantum: q, RunID: "r1"}, WithPublisher(bus))
	require.NoError(t, s.Start())
	for !s.Halted() {
		s.Tick()
	}

	var types []string
	for len(events) > 0 {
		e := <-events
		assert.Equal(t, "r1", e.RunID)
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		eventbus.RunStarted,
		eventbus.WorkerStarted,
		eventbus.WorkerFinished,
		eventbus.WorkerStarted,
		eventbus.WorkerFinished,
		eventbus.RunHalted,
	}, types)
}
