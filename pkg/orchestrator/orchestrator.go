// Package orchestrator drives one decompilation run: it prepares the input,
// runs the decompile worker in-process or in an isolated process while
// collecting its progress, then applies the produced line map to the
// runtime archive.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/incremental"
	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
	"github.com/Sumatoshi-tech/srcforge/pkg/rewrite"
	"github.com/Sumatoshi-tech/srcforge/pkg/worker"
)

const (
	tracerName    = "srcforge/orchestrator"
	requiredBits  = 64
	lineMapSuffix = ".linemap"
	freshInfix    = ".fresh"

	statusOK     = "ok"
	statusFailed = "failed"
)

// ErrInvalidConfig is returned when the configuration cannot describe a run.
var ErrInvalidConfig = errors.New("invalid orchestrator config")

// LineMapPath returns where the line map of a source archive is written.
func LineMapPath(sources string) string {
	return strings.TrimSuffix(sources, filepath.Ext(sources)) + lineMapSuffix
}

// Result describes a finished run.
type Result struct {
	State       State         `json:"state"                yaml:"state"`
	Isolation   IsolationMode `json:"isolation"            yaml:"isolation"`
	Decompiler  string        `json:"decompiler"           yaml:"decompiler"`
	Input       string        `json:"input"                yaml:"input"`
	Runtime     string        `json:"runtime"              yaml:"runtime"`
	Sources     string        `json:"sources"              yaml:"sources"`
	LineMap     string        `json:"linemap,omitempty"    yaml:"linemap,omitempty"`
	Channel     bool          `json:"channel"              yaml:"channel"`
	Messages    int64         `json:"messages"             yaml:"messages"`
	Units       int           `json:"units"                yaml:"units"`
	Sourced     int           `json:"sources_written"      yaml:"sources_written"`
	Mapped      int           `json:"mapped"               yaml:"mapped"`
	Skipped     int           `json:"skipped"              yaml:"skipped"`
	Regenerated int           `json:"regenerated"          yaml:"regenerated"`
	Rewritten   int           `json:"rewritten"            yaml:"rewritten"`
	Replaced    int           `json:"replaced"             yaml:"replaced"`
	Lines       int           `json:"lines"                yaml:"lines"`
	Duration    time.Duration `json:"duration"             yaml:"duration"`
}

// Orchestrator runs decompilation passes with a fixed configuration.
// Runs targeting the same output paths must be serialized by the caller.
type Orchestrator struct {
	cfg         Config
	logger      *slog.Logger
	pointerBits int
	servers     atomic.Int32
}

// New returns an Orchestrator for cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Isolation == "" {
		cfg.Isolation = InProcess
	}

	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	return &Orchestrator{cfg: cfg, logger: logger, pointerBits: bits.UintSize}
}

// Servers returns how many progress servers this orchestrator has opened.
func (o *Orchestrator) Servers() int {
	return int(o.servers.Load())
}

// Run decompiles input into the configured source archive and rewrites the
// line tables of runtime to match. runtime may differ from input when a
// bytecode step ran in between; it may be empty to skip the rewrite.
func (o *Orchestrator) Run(ctx context.Context, input, runtime, mappings string) (*Result, error) {
	start := time.Now()

	res := &Result{
		Isolation:  o.cfg.Isolation,
		Decompiler: o.cfg.Decompiler,
		Input:      input,
		Runtime:    runtime,
		Sources:    o.cfg.Sources,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "srcforge.orchestrator.run",
		trace.WithAttributes(
			attribute.String("orchestrator.isolation", string(o.cfg.Isolation)),
			attribute.String("orchestrator.decompiler", o.cfg.Decompiler),
			attribute.Bool("orchestrator.incremental", o.cfg.Incremental != nil),
		))
	defer span.End()

	lc := &lifecycle{}
	err := o.run(ctx, input, runtime, mappings, lc, res)

	res.State = lc.state
	res.Duration = time.Since(start)

	status := statusOK
	if err != nil {
		status = statusFailed

		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.String("orchestrator.state", res.State.String()),
		attribute.Int64("progress.messages", res.Messages),
		attribute.Int("unit.count", res.Units),
	)

	o.cfg.Metrics.RecordRun(ctx, observability.RunStats{
		Decompiler:       o.cfg.Decompiler,
		Isolation:        string(o.cfg.Isolation),
		Status:           status,
		Units:            res.Units,
		Skipped:          res.Skipped,
		Regenerated:      res.Regenerated,
		LinesRewritten:   res.Lines,
		ProgressMessages: int(res.Messages),
		Duration:         res.Duration,
	})

	if err != nil {
		o.logger.ErrorContext(ctx, "orchestrator: run failed", "input", input, "state", res.State, "error", err)

		return res, err
	}

	o.logger.InfoContext(ctx, "orchestrator: run complete",
		"input", input, "sources", res.Sources, "units", res.Units,
		"rewritten", res.Rewritten, "lines", res.Lines, "duration", res.Duration.Round(time.Millisecond))

	return res, nil
}

func (o *Orchestrator) run(
	ctx context.Context, input, runtime, mappings string, lc *lifecycle, res *Result,
) error {
	if o.pointerBits < requiredBits {
		_ = lc.moveTo(Failed)

		return fail(ErrEnvironmentUnsupported, input,
			fmt.Errorf("%d-bit address space, %d-bit required", o.pointerBits, requiredBits))
	}

	if o.cfg.Sources == "" || o.cfg.Decompiler == "" {
		_ = lc.moveTo(Failed)

		return fmt.Errorf("%w: sources and decompiler are required", ErrInvalidConfig)
	}

	resolved, err := o.preprocess(ctx, input)
	if err != nil {
		_ = lc.moveTo(Failed)

		return fail(ErrWorkerFailed, input, err)
	}

	logSize(ctx, o.logger, "orchestrator: input", resolved)

	var plan *incremental.Plan

	decompileInput := resolved
	workerSources := o.cfg.Sources

	if o.cfg.Incremental != nil {
		plan, err = o.cfg.Incremental.Plan(ctx, resolved, o.cfg.IsAffected)
		if err != nil {
			_ = lc.moveTo(Failed)

			return fail(ErrWorkerFailed, input, fmt.Errorf("incremental plan: %w", err))
		}

		defer func() {
			cleanupErr := plan.Cleanup()
			if cleanupErr != nil {
				o.logger.WarnContext(ctx, "orchestrator: cleanup failed", "error", cleanupErr)
			}
		}()

		res.Skipped = plan.Skipped()
		res.Regenerated = plan.Regenerated()
		decompileInput = plan.Input
		workerSources = freshPath(o.cfg.Sources)
	}

	lineMap := LineMapPath(o.cfg.Sources)

	req := worker.Request{
		Input:      decompileInput,
		Sources:    workerSources,
		LineMap:    lineMap,
		Mappings:   mappings,
		Classpath:  o.cfg.Classpath,
		Decompiler: o.cfg.Decompiler,
		Options:    o.cfg.Options,
		MaxThreads: o.cfg.MaxThreads,
	}

	_ = lc.moveTo(Running)

	produced, err := o.launch(ctx, req, res)
	if err != nil {
		_ = lc.moveTo(Failed)

		return err
	}

	_ = lc.moveTo(Completed)

	postErr := o.postProcess(ctx, plan, produced, lineMap, runtime, res)
	if postErr != nil {
		return fail(ErrPostProcess, input, postErr)
	}

	return nil
}

func (o *Orchestrator) preprocess(ctx context.Context, input string) (string, error) {
	if o.cfg.Preprocessor == nil {
		return input, nil
	}

	out, err := o.cfg.Preprocessor.Process(ctx, input)
	if err != nil {
		return "", fmt.Errorf("preprocess: %w", err)
	}

	return out, nil
}

// launch runs the worker when there is anything to decompile and reports
// the source archive it produced, or "" when it was not run.
func (o *Orchestrator) launch(ctx context.Context, req worker.Request, res *Result) (string, error) {
	if req.Input == "" {
		o.logger.InfoContext(ctx, "orchestrator: every unit unaffected, worker not launched")

		removeErr := linemap.Remove(req.LineMap)
		if removeErr != nil {
			return "", fail(ErrWorkerFailed, req.Input, removeErr)
		}

		return "", nil
	}

	summary, err := o.decompile(ctx, req, res)
	if err != nil {
		return "", err
	}

	res.Units = summary.Units
	res.Sourced = summary.Sources
	res.Mapped = summary.Mapped

	return req.Sources, nil
}

func (o *Orchestrator) postProcess(
	ctx context.Context, plan *incremental.Plan, produced, lineMap, runtime string, res *Result,
) error {
	if plan != nil {
		spliceErr := o.cfg.Incremental.Splice(ctx, plan, produced, o.cfg.Sources)
		if spliceErr != nil {
			return fmt.Errorf("splice sources: %w", spliceErr)
		}

		if produced != "" {
			removeErr := os.Remove(produced)
			if removeErr != nil {
				o.logger.WarnContext(ctx, "orchestrator: cleanup failed", "path", produced, "error", removeErr)
			}
		}
	}

	table, err := readLineMap(lineMap)
	if err != nil {
		return err
	}

	if table != nil {
		res.LineMap = lineMap
	}

	var replace map[string][]byte
	if plan != nil {
		replace = plan.Replacements()
	}

	if runtime != "" && (table != nil || len(replace) > 0) {
		stats, rewriteErr := rewrite.Archive(ctx, runtime, runtime, table, rewrite.Options{
			Replace: replace,
			Logger:  o.logger,
		})
		if rewriteErr != nil {
			return rewriteErr
		}

		res.Rewritten = stats.Rewritten
		res.Replaced = stats.Replaced
		res.Lines = stats.Lines

		logSize(ctx, o.logger, "orchestrator: runtime rewritten", runtime)
	}

	if plan != nil && runtime != "" {
		commitErr := o.cfg.Incremental.Commit(ctx, plan, o.cfg.Sources, runtime)
		if commitErr != nil {
			return fmt.Errorf("save snapshot: %w", commitErr)
		}
	}

	return nil
}

func readLineMap(path string) (linemap.Table, error) {
	_, statErr := os.Stat(path)
	if errors.Is(statErr, os.ErrNotExist) {
		return nil, nil //nolint:nilnil // no line map means nothing diverged.
	}

	return linemap.ReadFile(path)
}

func freshPath(sources string) string {
	ext := filepath.Ext(sources)

	return strings.TrimSuffix(sources, ext) + freshInfix + ext
}

func logSize(ctx context.Context, logger *slog.Logger, msg, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	logger.DebugContext(ctx, msg, "path", path, "size", humanize.Bytes(uint64(info.Size()))) //nolint:gosec // sizes are non-negative.
}

// transport returns the configured progress transport.
func (o *Orchestrator) transport() progress.Transport {
	if o.cfg.Transport != nil {
		return o.cfg.Transport
	}

	return progress.DetectTransport()
}

func (o *Orchestrator) sink() progress.Sink {
	if o.cfg.Sink != nil {
		return o.cfg.Sink
	}

	return progress.LogSink{Logger: o.logger}
}

// openChannel starts a progress server for the run producing sources, or
// returns nil when local sockets are unavailable.
func (o *Orchestrator) openChannel(ctx context.Context, sources string) *progress.Server {
	t := o.transport()
	if !t.Available() {
		o.logger.DebugContext(ctx, "orchestrator: local sockets unavailable, worker reports directly")

		return nil
	}

	key, err := filepath.Abs(sources)
	if err != nil {
		key = sources
	}

	srv, err := progress.Listen(t, progress.SocketPath(key), o.sink(), o.logger)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: progress channel unavailable, worker reports directly", "error", err)

		return nil
	}

	o.servers.Add(1)

	return srv
}

// decompile runs the worker under the configured isolation and tears the
// progress channel down on every path.
func (o *Orchestrator) decompile(ctx context.Context, req worker.Request, res *Result) (worker.Summary, error) {
	srv := o.openChannel(ctx, req.Sources)
	if srv != nil {
		req.Socket = srv.Path()
		res.Channel = true
	}

	runCtx := ctx
	if o.cfg.WorkerTimeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, o.cfg.WorkerTimeout)
		defer cancel()
	}

	var out outcome

	switch o.cfg.Isolation {
	case IsolatedProcess:
		out = o.runIsolated(runCtx, req)
	default:
		out = o.runInProcess(runCtx, req)
	}

	if srv != nil {
		closeErr := srv.Close()
		if closeErr != nil {
			o.logger.WarnContext(ctx, "orchestrator: progress channel close failed", "error", closeErr)
		}

		res.Messages = srv.Messages()
	}

	if out.err != nil {
		if runCtx.Err() != nil {
			out.err = errors.Join(out.err, runCtx.Err())
		}

		return out.summary, fail(ErrWorkerFailed, req.Input, out.err)
	}

	if out.shutdownErr != nil {
		if res.Messages == 0 {
			return out.summary, fail(ErrIdleShutdown, req.Input, out.shutdownErr)
		}

		o.logger.WarnContext(ctx, "orchestrator: worker shutdown failed after reporting progress",
			"messages", res.Messages, "error", out.shutdownErr)
	}

	return out.summary, nil
}

// outcome separates a failed pass from a pass that completed but whose
// runtime did not shut down cleanly.
type outcome struct {
	summary     worker.Summary
	err         error
	shutdownErr error
}

func (o *Orchestrator) runInProcess(ctx context.Context, req worker.Request) outcome {
	reporter := o.reporter(ctx, req.Socket)

	summary, err := worker.Run(ctx, req, worker.Deps{
		Registry: o.cfg.Registry,
		Reporter: reporter,
		Logger:   o.logger,
	})

	closeErr := reporter.Close()
	if closeErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: progress client close failed", "error", closeErr)
	}

	return outcome{summary: summary, err: err}
}

func (o *Orchestrator) reporter(ctx context.Context, socket string) progress.Reporter {
	if socket == "" {
		return progress.NewDirectReporter(o.cfg.Stdout)
	}

	client, err := progress.Dial(o.transport(), socket)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: progress dial failed, reporting directly", "error", err)

		return progress.NewDirectReporter(o.cfg.Stdout)
	}

	return client
}
