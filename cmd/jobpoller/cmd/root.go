// Package cmd implements the jobpoller command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/jobpoller"
	audithook "github.com/xraph/jobpoller/audit_hook"
	"github.com/xraph/jobpoller/engine"
	"github.com/xraph/jobpoller/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	cfg       jobpoller.Config
	logger    *slog.Logger
	closeLogs io.Closer
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "jobpoller",
		Short: "Submit batch jobs and poll them to completion",
		Long: `jobpoller triggers jobs on an external executor, polls their status
until they succeed, fail or run out of time, and records every run in a
durable store. Runs left unfinished by a crash are resumed on the next start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLogs != nil {
				return a.closeLogs.Close()
			}
			return nil
		},
	}
	root.Version = Version
	root.SetVersionTemplate("jobpoller {{.Version}}\n")

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	f.StringVar(&a.logFile, "log-file", "", "write logs to a rotated file instead of stderr")

	root.AddCommand(
		newServeCmd(a),
		newTriggerCmd(a),
		newRunsCmd(a),
		newCronCmd(a),
	)
	return root
}

// load reads the config and builds the logger. Flags win over the file.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := jobpoller.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	logger, closer, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closeLogs = cfg, logger, closer
	return nil
}

// openEngine opens the configured store and executor and builds an engine
// over them. The returned func closes the store.
func (a *app) openEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, func(), error) {
	s, closeStore, err := engine.OpenStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if cerr := closeStore(); cerr != nil {
			a.logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}
	eng, err := a.buildEngine(s, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func (a *app) buildEngine(s store.Store, opts ...engine.Option) (*engine.Engine, error) {
	client, err := engine.NewExecutor(a.cfg.Executor, a.logger)
	if err != nil {
		return nil, err
	}
	opts = append([]engine.Option{engine.WithLogger(a.logger)}, opts...)
	if a.cfg.Log.Audit {
		opts = append(opts, engine.WithExtension(audithook.New(
			audithook.SlogRecorder(a.logger.With(slog.String("component", "audit"))),
			audithook.WithLogger(a.logger),
		)))
	}
	eng, err := engine.Build(a.cfg, s, client, opts...)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, nil
}
