package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rrsched/internal/proc"
)

func TestWorkModeCompletes(t *testing.T) {
	t.Parallel()
	err := Run(context.Background(), Options{Name: "w", Mode: proc.ModeWork, Work: 5 * time.Millisecond})
	assert.NoError(t, err)
}

func TestIdleModeBlocksUntilCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{Mode: proc.ModeIdle})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
