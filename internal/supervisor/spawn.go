package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/testrunner"
	"github.com/torosent/crankloop/internal/worker"
)

// ExitNothingToTest is the exit status of a worker process that found no
// test to run.
const ExitNothingToTest = 3

// DefaultGracePeriod is how long a cancelled worker gets to drain its result
// writer before it is killed.
const DefaultGracePeriod = 30 * time.Second

// ExecSpawner runs each worker as a child process of the current binary.
// The child reads its parameters as YAML from stdin.
type ExecSpawner struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are passed to the child; they default to the hidden worker command.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	// GracePeriod bounds the wait between interrupting a child on
	// cancellation and killing it. Zero means DefaultGracePeriod.
	GracePeriod time.Duration
}

func (e *ExecSpawner) Spawn(ctx context.Context, p worker.Params) error {
	exe := e.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		exe = self
	}
	args := e.Args
	if args == nil {
		args = []string{"worker"}
	}
	data, err := worker.EncodeParams(p)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	if e.Env != nil {
		cmd.Env = e.Env
	}
	// Interrupt rather than kill, so the child closes its result file.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	err = cmd.Run()
	if err != nil && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// Interrupted, drained and exited cleanly.
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitNothingToTest {
		return testrunner.ErrNothingToTest
	}
	return err
}

// InProcessSpawner runs workers as goroutines of the current process. Each
// worker still owns its own result writer and recorders.
type InProcessSpawner struct {
	Streams worker.Streams
	Logger  *zap.Logger
}

func (s InProcessSpawner) Spawn(ctx context.Context, p worker.Params) error {
	return worker.Execute(ctx, p, s.Streams, s.Logger)
}
