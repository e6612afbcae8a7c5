package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrsched/internal/proc"
	"rrsched/internal/proc/proctest"
)

func ids(recs []*WorkerRecord) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func newQueue(t *testing.T, n int) *Queue {
	t.Helper()
	q := NewQueue(0)
	for i := 1; i <= n; i++ {
		require.NoError(t, q.Append(&WorkerRecord{ID: i}))
	}
	return q
}

func TestQueueRemoveAtKeepsOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		index int
		want  []int
	}{
		{name: "head", index: 0, want: []int{2, 3, 4}},
		{name: "middle", index: 2, want: []int{1, 2, 4}},
		{name: "tail", index: 3, want: []int{1, 2, 3}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := newQueue(t, 4)
			rec, err := q.RemoveAt(tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.index+1, rec.ID)
			assert.Equal(t, tt.want, ids(q.Records()))
			assert.False(t, q.Contains(rec))
		})
	}
}

func TestQueueRemoveAtInvalidIndex(t *testing.T) {
	t.Parallel()
	q := newQueue(t, 2)
	_, err := q.RemoveAt(2)
	assert.ErrorIs(t, err, ErrIndex)
	_, err = q.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrIndex)
	assert.Equal(t, 2, q.Len())
}

func TestQueueRemoveReturnsSuccessor(t *testing.T) {
	t.Parallel()
	q := newQueue(t, 3)
	recs := q.Records()

	next, err := q.Remove(recs[2]) // tail wraps to head
	require.NoError(t, err)
	assert.Equal(t, 1, next.ID)

	next, err = q.Remove(recs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, next.ID)

	next, err = q.Remove(recs[1])
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Zero(t, q.Len())

	_, err = q.Remove(recs[1])
	assert.Error(t, err)
}

func TestQueueNextIsCircular(t *testing.T) {
	t.Parallel()
	q := newQueue(t, 3)
	r1 := q.Front()
	r2 := q.Next(r1)
	r3 := q.Next(r2)
	assert.Equal(t, []int{1, 2, 3}, []int{r1.ID, r2.ID, r3.ID})
	assert.Same(t, r1, q.Next(r3))
	assert.Equal(t, 2, q.Index(r3))

	single := newQueue(t, 1)
	assert.Same(t, single.Front(), single.Next(single.Front()))
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)
	require.NoError(t, q.Append(&WorkerRecord{ID: 1}))
	assert.ErrorIs(t, q.Append(&WorkerRecord{ID: 2}), ErrCapacity)
}

func TestRegisterSpawnsSuspendedWorkers(t *testing.T) {
	sp := &proctest.Spawner{}
	r := New(sp, 10)

	require.NoError(t, r.Populate(context.Background(), 3, 300*time.Millisecond))
	recs := r.Queue().Records()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.ID)
		assert.Equal(t, 300*time.Millisecond, rec.Remaining)
		assert.Equal(t, NotStarted, rec.State)
		assert.True(t, sp.Procs()[i].Stopped())
	}
	assert.Equal(t, 3, r.Live())
}

func TestPopulateAbortsOnSpawnFailure(t *testing.T) {
	sp := &proctest.Spawner{FailAt: 3}
	r := New(sp, 10)

	err := r.Populate(context.Background(), 3, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, proc.ErrSpawn))
	assert.Zero(t, r.Queue().Len())
	for _, p := range sp.Procs() {
		assert.True(t, p.Exited(), "pid %d left running", p.PID())
	}
	assert.Zero(t, r.Live())
}

func TestRegisterCapacity(t *testing.T) {
	r := New(&proctest.Spawner{}, 1)
	_, err := r.Register(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = r.Register(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestJoinWaitsForEveryWorker(t *testing.T) {
	sp := &proctest.Spawner{}
	r := New(sp, 0)
	require.NoError(t, r.Populate(context.Background(), 2, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Join(ctx), context.DeadlineExceeded)

	for _, p := range sp.Procs() {
		p.Exit()
	}
	assert.NoError(t, r.Join(context.Background()))
}
