package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"rrsched/internal/proc"
	"rrsched/internal/worker"
	logx "rrsched/pkg/logx"
)

// newWorkerCmd is the body of spawned workers; not meant for direct use.
func newWorkerCmd() *cobra.Command {
	var (
		mode string
		work time.Duration
		name string
	)
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run as a scheduled worker process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := proc.Mode(mode)
			if m != proc.ModeIdle && m != proc.ModeWork {
				return errors.New("--mode must be idle or work")
			}
			level := flagLogLevel
			if flagDebug {
				level = "debug"
			}
			log := logx.NewConsole(level).With(logx.String("comp", "worker"))

			ctx, stop := signalContext(cmd)
			defer stop()
			return worker.Run(ctx, worker.Options{Name: name, Mode: m, Work: work, Log: log})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(proc.ModeIdle), "idle or work")
	cmd.Flags().DurationVar(&work, "work", 0, "Work duration (work mode)")
	cmd.Flags().StringVar(&name, "name", "", "Worker name for logs")
	return cmd
}
