package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(Default()))
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := []byte(`
scheduler:
  quantum: 50ms
  workers: 4
  worker_runtime: 200ms
storage:
  driver: sqlite
  path: ./hist.db
serve:
  schedule: "*/5 * * * *"
  mode: lifo
`)
	cfg, err := Decode("rrsched.yaml", yml)
	require.NoError(t, err)
	assert.Equal(t, "50ms", cfg.Scheduler.Quantum)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, DefaultCapacity, cfg.Scheduler.Capacity)
	assert.Equal(t, DefaultStaticWork, cfg.Static.Work)
	assert.Equal(t, "lifo", cfg.Serve.Mode)

	js := []byte(`{"scheduler":{"quantum":"1s","workers":1,"worker_runtime":"2s"}}`)
	cfg, err = Decode("rrsched.json", js)
	require.NoError(t, err)
	assert.Equal(t, "1s", cfg.Scheduler.Quantum)
	assert.Equal(t, "rr", cfg.Serve.Mode)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field":  `{"scheduler":{"quantm":"1s"}}`,
		"trailing data":  `{} {}`,
		"zero quantum":   `{"scheduler":{"quantum":"0s"}}`,
		"bad duration":   `{"scheduler":{"worker_runtime":"soon"}}`,
		"negative":       `{"scheduler":{"workers":-1}}`,
		"over capacity":  `{"scheduler":{"workers":11,"capacity":10}}`,
		"bad driver":     `{"storage":{"driver":"redis"}}`,
		"missing path":   `{"storage":{"driver":"file"}}`,
		"bad serve mode": `{"serve":{"mode":"sjf"}}`,
		"bad schedule":   `{"serve":{"schedule":"every now and then"}}`,
	}
	for name, in := range cases {
		in := in
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.json", []byte(in))
			assert.Error(t, err)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Scheduler.Quantum = "0s"
	cfg.Static.Workers = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.quantum")
	assert.Contains(t, err.Error(), "static.workers")
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a, b := Default(), Default()
	b.Scheduler.Quantum = "10ms"
	b.Logging.Level = "debug"
	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"scheduler", "logging"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestManagerWithoutPathServesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rrsched.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"quantum":"100ms"}}`), 0o600))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and not published.
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"quantum":"0s"}}`), 0o600))
	select {
	case <-ch:
		t.Fatal("invalid config published")
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"quantum":"20ms"}}`), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, "20ms", cfg.Scheduler.Quantum)
		assert.Equal(t, "20ms", m.Get().Scheduler.Quantum)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}

	cancel()
	<-done
}
