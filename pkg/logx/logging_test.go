package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "sched"))

	log.Info("worker paused", Int("worker", 2), Duration("remaining", 0))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "worker paused", m["message"])
	assert.Equal(t, "sched", m["comp"])
	assert.EqualValues(t, 2, m["worker"])
	assert.Equal(t, "info", m["level"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.False(t, log.Enabled(LevelDebug))
}

func TestLimitedDropsAboveBurst(t *testing.T) {
	var buf bytes.Buffer
	lim := rate.NewLimiter(rate.Limit(0.0001), 2)
	log := NewWriter(&buf, "info").Limited(lim)

	for i := 0; i < 5; i++ {
		log.Warn("signal failed", Int("i", i))
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Error("nothing", Err(nil)) })
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
