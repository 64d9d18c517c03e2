// Package main is the entry point for the heatmap tile server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130) // Standard shell convention for SIGINT
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loggerKey struct{}

func newRootCmd() *cobra.Command {
	var verbose bool
	var level string

	root := &cobra.Command{
		Use:          "heatmap-server",
		Short:        "Serve and render large heatmaps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			if verbose {
				lvl = log.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), lvl)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&level, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRenderCmd())
	return root
}

// newLogger creates a logger with timestamp formatting.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// parseLevel maps a level name to a log level. An empty name means info.
func parseLevel(name string) (log.Level, error) {
	if strings.TrimSpace(name) == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
	return lvl, nil
}

func loggerFrom(cmd *cobra.Command) *log.Logger {
	if l, ok := cmd.Context().Value(loggerKey{}).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
