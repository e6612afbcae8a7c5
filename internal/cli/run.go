package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rrsched/internal/app"
	"rrsched/internal/config"
)

func newRunCmd() *cobra.Command {
	var (
		quantum  string
		workers  int
		runtime  string
		capacity int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one round-robin schedule until every worker finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			a, err := newApp(func(c *config.Config) {
				if f.Changed("quantum") {
					c.Scheduler.Quantum = quantum
				}
				if f.Changed("workers") {
					c.Scheduler.Workers = workers
				}
				if f.Changed("runtime") {
					c.Scheduler.WorkerRuntime = runtime
				}
				if f.Changed("capacity") {
					c.Scheduler.Capacity = capacity
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return runOnce(cmd, a, app.ModeRoundRobin)
		},
	}
	cmd.Flags().StringVarP(&quantum, "quantum", "q", config.DefaultQuantum, "Time slice per turn")
	cmd.Flags().IntVarP(&workers, "workers", "n", config.DefaultWorkers, "Number of workers")
	cmd.Flags().StringVarP(&runtime, "runtime", "r", config.DefaultWorkerRuntime, "Total CPU time each worker needs")
	cmd.Flags().IntVar(&capacity, "capacity", config.DefaultCapacity, "Maximum queued workers (0 = unbounded)")
	return cmd
}

func newStaticCmd(mode app.Mode, short string) *cobra.Command {
	var (
		workers    int
		work       string
		spawnDelay string
	)
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			a, err := newApp(func(c *config.Config) {
				if f.Changed("workers") {
					c.Static.Workers = workers
				}
				if f.Changed("work") {
					c.Static.Work = work
				}
				if f.Changed("spawn-delay") {
					c.Static.SpawnDelay = spawnDelay
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return runOnce(cmd, a, mode)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "n", config.DefaultWorkers, "Number of workers")
	cmd.Flags().StringVarP(&work, "work", "w", config.DefaultStaticWork, "How long each worker runs")
	cmd.Flags().StringVar(&spawnDelay, "spawn-delay", config.DefaultSpawnDelay, "Pause between spawns")
	return cmd
}

func runOnce(cmd *cobra.Command, a *app.App, mode app.Mode) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := a.Run(ctx, mode)
	if err != nil {
		return fmt.Errorf("%s run %s: %w", mode, res.RunID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s, %d workers in %s\n",
		res.RunID, res.Outcome, res.Workers, res.Ended.Sub(res.Started).Round(time.Millisecond))
	return nil
}
