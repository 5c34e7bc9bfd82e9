package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/incremental"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
)

// IsolationMode selects where the decompile worker runs. It never changes
// the outputs, only fault isolation and memory accounting.
type IsolationMode string

const (
	// InProcess runs the worker in the calling process.
	InProcess IsolationMode = "in-process"
	// IsolatedProcess re-executes a worker command with a bounded heap.
	IsolatedProcess IsolationMode = "isolated"
)

// WorkerSubcommand is appended to the worker command, followed by
// "--request <file>".
const WorkerSubcommand = "worker"

// Preprocessor transforms the input archive before decompilation and
// returns the path of the archive to decompile.
type Preprocessor interface {
	Process(ctx context.Context, input string) (string, error)
}

// PreprocessorFunc adapts a function to Preprocessor.
type PreprocessorFunc func(ctx context.Context, input string) (string, error)

// Process calls f.
func (f PreprocessorFunc) Process(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// Config configures an Orchestrator.
type Config struct {
	Isolation  IsolationMode
	Decompiler string
	Options    map[string]string
	MaxThreads int
	Classpath  []string

	// Sources is the source archive to produce. Its line map is written to
	// LineMapPath(Sources).
	Sources string

	// MemoryMB bounds the isolated worker heap through GOMEMLIMIT; 0 leaves
	// it unbounded.
	MemoryMB int
	// WorkerCommand is the executable and leading arguments of an isolated
	// worker; empty means the running executable.
	WorkerCommand []string
	// WorkerEnv is appended to the isolated worker environment.
	WorkerEnv []string
	// WorkerTimeout bounds the worker run; 0 means no limit.
	WorkerTimeout time.Duration

	// Registry resolves decompilers for in-process runs.
	Registry *decompiler.Registry
	// Transport provides the progress channel; nil means progress.DetectTransport().
	Transport progress.Transport
	// Sink receives progress messages; nil logs them.
	Sink progress.Sink
	// Stdout receives direct progress output when no channel is available
	// and the isolated worker's own output.
	Stdout io.Writer
	Stderr io.Writer

	Preprocessor Preprocessor

	// Incremental enables incremental runs; IsAffected reports top-level
	// units the downstream step changed.
	Incremental *incremental.Controller
	IsAffected  func(string) bool

	Metrics *observability.RunMetrics
	Logger  *slog.Logger
}
