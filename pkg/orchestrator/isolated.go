package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/worker"
)

const (
	// EnvMemoryLimit bounds the Go heap of the worker process.
	EnvMemoryLimit = "GOMEMLIMIT"

	requestFile = "request.json"
	workDirGlob = "srcforge-worker-*"

	// waitDelay bounds how long Wait blocks on the worker's output pipes
	// after it was killed.
	waitDelay = 2 * time.Second
)

// ErrNoResult is the cause of a worker failure when the process exited
// without leaving a result file.
var ErrNoResult = errors.New("worker left no result")

// runIsolated re-executes the worker command on a request file and reads
// back the result it leaves.
func (o *Orchestrator) runIsolated(ctx context.Context, req worker.Request) outcome {
	dir, err := os.MkdirTemp("", workDirGlob)
	if err != nil {
		return outcome{err: fmt.Errorf("create worker dir: %w", err)}
	}

	defer func() {
		removeErr := os.RemoveAll(dir)
		if removeErr != nil {
			o.logger.WarnContext(ctx, "orchestrator: cleanup failed", "path", dir, "error", removeErr)
		}
	}()

	requestPath := filepath.Join(dir, requestFile)
	req.Result = filepath.Join(dir, worker.ResultFile)

	err = worker.WriteRequest(requestPath, req)
	if err != nil {
		return outcome{err: err}
	}

	cmd, err := o.workerCommand(ctx, requestPath)
	if err != nil {
		return outcome{err: err}
	}

	o.logger.DebugContext(ctx, "orchestrator: starting isolated worker",
		"command", cmd.Path, "memory_mb", o.cfg.MemoryMB, "request", requestPath)

	waitErr := cmd.Run()

	if ctx.Err() != nil {
		return outcome{err: fmt.Errorf("worker interrupted: %w", errors.Join(ctx.Err(), waitErr))}
	}

	res, readErr := worker.ReadResult(req.Result)
	if readErr != nil {
		return outcome{err: errors.Join(ErrNoResult, waitErr, readErr)}
	}

	if res.Status != worker.StatusOK {
		return outcome{summary: res.Summary, err: errors.New(res.Error)}
	}

	if waitErr != nil {
		return outcome{summary: res.Summary, shutdownErr: fmt.Errorf("worker exit: %w", waitErr)}
	}

	return outcome{summary: res.Summary}
}

func (o *Orchestrator) workerCommand(ctx context.Context, requestPath string) (*exec.Cmd, error) {
	argv := o.cfg.WorkerCommand
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}

		argv = []string{exe}
	}

	args := append(slices.Clone(argv[1:]), WorkerSubcommand, "--request", requestPath)

	cmd := exec.CommandContext(ctx, argv[0], args...) //nolint:gosec // the worker command comes from configuration.
	cmd.Env = append(os.Environ(), o.workerEnv(ctx)...)
	cmd.Stdout = o.cfg.Stdout
	cmd.Stderr = o.cfg.Stderr
	cmd.WaitDelay = waitDelay

	return cmd, nil
}

func (o *Orchestrator) workerEnv(ctx context.Context) []string {
	var env []string

	if o.cfg.MemoryMB > 0 {
		env = append(env, fmt.Sprintf("%s=%dMiB", EnvMemoryLimit, o.cfg.MemoryMB))
	}

	env = append(env, observability.InjectEnv(ctx)...)

	return append(env, o.cfg.WorkerEnv...)
}
