// Package commands implements CLI command handlers for srcforge.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/config"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler/outline"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/version"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUnsupported = 2
	ExitIdle        = 3
	ExitWorker      = 4
	ExitPostProcess = 5
)

// Environment forwarded to isolated workers so they log like their parent.
const (
	envLogLevel = "SRCFORGE_LOGGING_LEVEL"
	envLogJSON  = "SRCFORGE_LOGGING_JSON"
)

// ObservabilityInit builds the telemetry providers of one command run.
type ObservabilityInit func(observability.Config) (observability.Providers, error)

// RegistryProvider returns the decompilers available to a run.
type RegistryProvider func() (*decompiler.Registry, error)

// app carries the global flags and injected collaborators shared by every
// subcommand.
type app struct {
	configPath string
	verbose    bool
	quiet      bool
	logJSON    bool

	obsInit  ObservabilityInit
	registry RegistryProvider
}

// session is the per-command state set up by app.start.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
}

// NewRootCommand creates the srcforge command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(observability.Init, BuiltinRegistry)
}

func newRootCommand(obsInit ObservabilityInit, registry RegistryProvider) *cobra.Command {
	a := &app{obsInit: obsInit, registry: registry}

	root := &cobra.Command{
		Use:   "srcforge",
		Short: "Decompile JVM archives and keep runtime line numbers aligned with the sources",
		Long: `srcforge decompiles a compiled archive into a source archive and rewrites the
debug line tables of the runtime archive so stack traces point at the
decompiled sources.

Commands:
  decompile  Run one decompilation pass
  linemap    Inspect or apply a line map
  diff       Compare two source archives
  snapshot   Manage incremental snapshots`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: .srcforge.yaml in CWD or $HOME)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress output")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "Emit logs as JSON")

	root.AddCommand(
		newDecompileCommand(a),
		newWorkerCommand(a),
		newLineMapCommand(a),
		newDiffCommand(a),
		newSnapshotCommand(a),
		newVersionCommand(),
	)

	return root
}

// BuiltinRegistry returns a registry holding the decompilers shipped with
// srcforge.
func BuiltinRegistry() (*decompiler.Registry, error) {
	reg := decompiler.NewRegistry()

	err := outline.Register(reg)
	if err != nil {
		return nil, err
	}

	return reg, nil
}

// start loads the configuration and initializes observability in mode.
// The caller must call end.
func (a *app) start(cmd *cobra.Command, mode observability.AppMode, metricsTextfile string) (*session, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.Environment = os.Getenv("SRCFORGE_ENV")
	obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	obsCfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	obsCfg.LogJSON = a.logJSON || cfg.Logging.JSON
	obsCfg.LogLevel = a.logLevel(cfg)
	obsCfg.LogOutput = cmd.ErrOrStderr()
	obsCfg.DebugTrace = a.verbose

	obsCfg.MetricsTextfile = cfg.Metrics.Textfile
	if metricsTextfile != "" {
		obsCfg.MetricsTextfile = metricsTextfile
	}

	providers, err := a.obsInit(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	logger := providers.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &session{cfg: cfg, providers: providers, logger: logger}, nil
}

func (a *app) logLevel(cfg *config.Config) slog.Level {
	switch {
	case a.verbose:
		return slog.LevelDebug
	case a.quiet:
		return slog.LevelError
	default:
		return cfg.SlogLevel()
	}
}

// workerEnv forwards the effective logging settings to isolated workers.
func (a *app) workerEnv(cfg *config.Config) []string {
	level := a.logLevel(cfg)

	return []string{
		envLogLevel + "=" + levelName(level),
		envLogJSON + "=" + strconv.FormatBool(a.logJSON || cfg.Logging.JSON),
	}
}

func levelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "debug"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	default:
		return "info"
	}
}

func (s *session) tracer() trace.Tracer {
	if s.providers.Tracer != nil {
		return s.providers.Tracer
	}

	return otel.Tracer("srcforge/cli")
}

// end flushes telemetry.
func (s *session) end(ctx context.Context) {
	if s.providers.Shutdown == nil {
		return
	}

	err := s.providers.Shutdown(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "observability shutdown failed", "error", err)
	}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, orchestrator.ErrEnvironmentUnsupported):
		return ExitUnsupported
	case errors.Is(err, orchestrator.ErrIdleShutdown):
		return ExitIdle
	case errors.Is(err, orchestrator.ErrWorkerFailed):
		return ExitWorker
	case errors.Is(err, orchestrator.ErrPostProcess):
		return ExitPostProcess
	default:
		return ExitError
	}
}
