//go:build !unix

package proc

import (
	"context"
	"fmt"

	logx "rrsched/pkg/logx"
)

// ExecSpawner needs SIGSTOP/SIGCONT job control, which this platform lacks.
type ExecSpawner struct {
	Command []string
	Log     logx.Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	return nil, fmt.Errorf("%w: %w", ErrSpawn, ErrUnsupported)
}
