package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrsched/internal/app"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"run", "fifo", "lifo", "serve", "history", "worker"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	w, _, _ := root.Find([]string{"worker"})
	assert.True(t, w.Hidden)
}

func TestRunRejectsInvalidQuantum(t *testing.T) {
	_, err := execute(t, "run", "--quantum", "0s", "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, app.ExitFailure, app.ExitCode(err))
}

func TestWorkerWorkModeExits(t *testing.T) {
	_, err := execute(t, "worker", "--mode", "work", "--work", "1ms", "--log-level", "error")
	require.NoError(t, err)
}

func TestWorkerRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "worker", "--mode", "busy")
	require.Error(t, err)
}

func TestHistoryEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist")
	out, err := execute(t, "history", "--storage", "file", "--storage-path", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestHistoryRequiresStorage(t *testing.T) {
	_, err := execute(t, "history", "--storage", "none", "--log-level", "error")
	require.Error(t, err)
}
