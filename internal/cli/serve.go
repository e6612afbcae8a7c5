package cli

import (
	"github.com/spf13/cobra"

	"rrsched/internal/config"
)

func newServeCmd() *cobra.Command {
	var (
		schedule    string
		mode        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run schedules periodically, reloading the config file on change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			a, err := newApp(func(c *config.Config) {
				if f.Changed("schedule") {
					c.Serve.Schedule = schedule
				}
				if f.Changed("mode") {
					c.Serve.Mode = mode
				}
				if f.Changed("metrics-addr") {
					c.Metrics.Enabled = metricsAddr != ""
					c.Metrics.Addr = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd)
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", config.DefaultSchedule, "Cron spec for runs")
	cmd.Flags().StringVar(&mode, "mode", "rr", "Mode per run (rr, fifo, lifo)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	return cmd
}
