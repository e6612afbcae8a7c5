// Package cli implements the rrsched command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rrsched/internal/app"
	"rrsched/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string
	flagDebug    bool

	flagStorage     string
	flagStoragePath string
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rrsched",
		Short: "Round-robin quantum scheduler over OS processes",
		Long: "rrsched emulates preemptive CPU scheduling in user space: it spawns worker\n" +
			"processes and rotates a fixed quantum between them with SIGSTOP/SIGCONT.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (JSON or YAML); defaults apply when empty")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagStorage, "storage", "", "History driver (file, sqlite, none)")
	root.PersistentFlags().StringVar(&flagStoragePath, "storage-path", "", "History path")

	root.AddCommand(
		newRunCmd(),
		newStaticCmd(app.ModeFIFO, "Run workers to completion in creation order"),
		newStaticCmd(app.ModeLIFO, "Run workers to completion, newest first"),
		newServeCmd(),
		newHistoryCmd(),
		newWorkerCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rrsched:", err)
	}
	return app.ExitCode(err)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// newApp builds the app with persistent flags applied over the config file,
// followed by the command's own override.
func newApp(extra func(*config.Config)) (*app.App, error) {
	return app.New(app.Options{
		ConfigPath: flagConfig,
		Override: func(c *config.Config) {
			if flagDebug {
				c.Logging.Level = "debug"
			} else if flagLogLevel != "" {
				c.Logging.Level = flagLogLevel
			}
			if flagStorage != "" {
				c.Storage.Driver = flagStorage
			}
			if flagStoragePath != "" {
				c.Storage.Path = flagStoragePath
			}
			if extra != nil {
				extra(c)
			}
		},
	})
}
