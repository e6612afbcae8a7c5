//go:build unix

package proc

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepSpawner(t *testing.T) *ExecSpawner {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	return &ExecSpawner{Command: []string{path, "60"}}
}

func TestExecProcessSignals(t *testing.T) {
	sp := sleepSpawner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := sp.Spawn(ctx, Spec{Name: "w1", Mode: ModeIdle, Stopped: true})
	require.NoError(t, err)
	require.Positive(t, p.PID())

	require.NoError(t, p.Start())
	require.NoError(t, p.Pause())
	require.NoError(t, p.Resume())
	require.NoError(t, p.Terminate())
	require.NoError(t, p.Wait(ctx))
	assert.Error(t, p.ExitErr(), "killed process reports a non-zero exit")

	err = p.Pause()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignal))
	assert.True(t, errors.Is(err, ErrGone))
}

func TestExecSpawnMissingBinary(t *testing.T) {
	sp := &ExecSpawner{Command: []string{"/nonexistent/rrsched-worker"}}
	_, err := sp.Spawn(context.Background(), Spec{Mode: ModeIdle})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestWaitTimeoutExpires(t *testing.T) {
	sp := sleepSpawner(t)
	p, err := sp.Spawn(context.Background(), Spec{Mode: ModeIdle})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Terminate()
		_ = p.Wait(context.Background())
	})

	err = WaitTimeout(context.Background(), p, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSelfArgv(t *testing.T) {
	t.Parallel()
	sp := &ExecSpawner{}
	argv, err := sp.argv(Spec{Mode: ModeWork, Work: 3 * time.Second, Name: "w2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker", "--mode", "work", "--work", "3s", "--name", "w2"}, argv[1:])
}
