package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/crankloop/internal/config"
	"github.com/torosent/crankloop/internal/supervisor"
	"github.com/torosent/crankloop/internal/testrunner"
	"github.com/torosent/crankloop/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(stdout, stderr)
	root.AddCommand(newWorkerCommand(stdin, stdout, stderr))
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, testrunner.ErrNothingToTest) {
		return supervisor.ExitNothingToTest
	}
	return 1
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankloop [flags] [test patterns...]",
		Short:         "Run a scenario under load across worker processes",
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags(), args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.Verbose, stderr)
			defer func() { _ = logger.Sync() }()

			spawner := &supervisor.ExecSpawner{Stdout: stdout, Stderr: stderr}
			return supervisor.New(spawner, logger).Run(cmd.Context(), worker.ParamsFromConfig(cfg), cfg.WorkerCount())
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func newWorkerCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker process; parameters are read as YAML from stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("read worker params: %w", err)
			}
			p, err := worker.DecodeParams(data)
			if err != nil {
				return err
			}
			logger := newLogger(p.Verbose, stderr)
			defer func() { _ = logger.Sync() }()

			return worker.Execute(cmd.Context(), p, worker.Streams{Out: stdout, Err: stderr}, logger)
		},
	}
}

func newLogger(verbose bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}
