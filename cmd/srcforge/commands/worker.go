package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
	"github.com/Sumatoshi-tech/srcforge/pkg/worker"
)

// ErrNoRequest is returned when the worker is started without --request.
var ErrNoRequest = errors.New("worker needs --request")

// newWorkerCommand is the entry point of isolated worker processes. It is
// hidden: only the orchestrator launches it.
func newWorkerCommand(a *app) *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:    orchestrator.WorkerSubcommand,
		Short:  "Run one decompile pass from a request file",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if requestPath == "" {
				return ErrNoRequest
			}

			return a.runWorker(cmd, requestPath)
		},
	}

	cmd.Flags().StringVar(&requestPath, "request", "", "Worker request file")

	return cmd
}

func (a *app) runWorker(cmd *cobra.Command, requestPath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = observability.ExtractEnv(ctx, os.Getenv)

	s, err := a.start(cmd, observability.ModeWorker, "")
	if err != nil {
		return err
	}

	defer s.end(ctx)

	reg, err := a.registry()
	if err != nil {
		return err
	}

	ctx, span := s.tracer().Start(ctx, "srcforge.worker.process")
	defer span.End()

	runErr := worker.RunRequestFile(ctx, requestPath, reg, cmd.OutOrStdout(), progress.DetectTransport(), s.logger)
	if runErr != nil {
		span.RecordError(runErr)
	}

	return runErr
}
