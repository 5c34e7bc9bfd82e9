// Package worker runs one decompilation pass: it feeds every unit of an
// input archive to a registered decompiler, writes the resulting source
// archive and the line map of units whose lines moved.
//
// The same entry point serves in-process runs and isolated worker processes;
// the latter start from a request file (see RunRequestFile).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
)

const tracerName = "srcforge/worker"

// ErrInvalidRequest is returned for requests missing required paths.
var ErrInvalidRequest = errors.New("invalid worker request")

// Request describes one decompilation pass.
type Request struct {
	Input      string            `json:"input"`
	Sources    string            `json:"sources"`
	LineMap    string            `json:"linemap"`
	Mappings   string            `json:"mappings,omitempty"`
	Classpath  []string          `json:"classpath,omitempty"`
	Decompiler string            `json:"decompiler"`
	Options    map[string]string `json:"options,omitempty"`
	MaxThreads int               `json:"max_threads"`
	// Socket is the progress channel path; empty means direct output.
	Socket string `json:"socket,omitempty"`
	// Result is where an isolated worker records its outcome.
	Result string `json:"result,omitempty"`
}

// Validate checks the required fields.
func (r Request) Validate() error {
	switch {
	case r.Input == "":
		return fmt.Errorf("%w: input is required", ErrInvalidRequest)
	case r.Sources == "":
		return fmt.Errorf("%w: sources is required", ErrInvalidRequest)
	case r.LineMap == "":
		return fmt.Errorf("%w: linemap is required", ErrInvalidRequest)
	case r.Decompiler == "":
		return fmt.Errorf("%w: decompiler is required", ErrInvalidRequest)
	case r.MaxThreads < 0:
		return fmt.Errorf("%w: max_threads must be >= 0", ErrInvalidRequest)
	}

	return nil
}

// Deps are the collaborators of a run, passed explicitly.
type Deps struct {
	Registry *decompiler.Registry
	Reporter progress.Reporter
	Logger   *slog.Logger
}

// Summary describes a finished pass.
type Summary struct {
	// Units counts compiled units read from the input, nested ones included.
	Units int `json:"units"`
	// Sources counts top-level sources written.
	Sources int `json:"sources"`
	// Mapped counts line map entries written.
	Mapped int `json:"mapped"`
}

// Run performs the pass described by req. On failure no source archive or
// line map is left behind. The reporter always receives CloseAll before Run
// returns.
func Run(ctx context.Context, req Request, deps Deps) (Summary, error) {
	var summary Summary

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reporter := deps.Reporter
	if reporter == nil {
		reporter = progress.Discard()
	}

	defer reporter.CloseAll()

	err := req.Validate()
	if err != nil {
		return summary, err
	}

	if deps.Registry == nil {
		return summary, fmt.Errorf("%w: no decompiler registry", ErrInvalidRequest)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "srcforge.worker",
		trace.WithAttributes(
			attribute.String("worker.decompiler", req.Decompiler),
			attribute.Int("worker.threads", req.MaxThreads),
		))
	defer span.End()

	summary, err = run(ctx, req, deps.Registry, reporter, logger)

	span.SetAttributes(
		attribute.Int("worker.units", summary.Units),
		attribute.Int("worker.mapped", summary.Mapped),
	)

	if err != nil {
		span.RecordError(err)

		return summary, fmt.Errorf("decompile %s: %w", req.Input, err)
	}

	logger.Info("worker: decompiled",
		"input", req.Input, "decompiler", req.Decompiler,
		"units", summary.Units, "sources", summary.Sources, "mapped", summary.Mapped)

	return summary, nil
}

func run(
	ctx context.Context, req Request, reg *decompiler.Registry,
	reporter progress.Reporter, logger *slog.Logger,
) (Summary, error) {
	var summary Summary

	// A line map left by an earlier run must never be applied to this one.
	removeErr := linemap.Remove(req.LineMap)
	if removeErr != nil {
		return summary, removeErr
	}

	dec, err := reg.New(req.Decompiler)
	if err != nil {
		return summary, err
	}

	units, err := readUnits(req.Input)
	if err != nil {
		return summary, err
	}

	summary.Units = len(units)

	cp, err := decompiler.NewClasspath(req.Classpath, 0)
	if err != nil {
		return summary, err
	}

	out, err := archive.Create(req.Sources)
	if err != nil {
		return summary, err
	}

	saver := newSaver(out)

	job := decompiler.Job{
		Units:      units,
		Classpath:  cp,
		Options:    req.Options,
		MaxThreads: req.MaxThreads,
		Mappings:   req.Mappings,
		Reporter:   reporter,
		Logger:     logger,
	}

	decErr := dec.Decompile(ctx, job, saver)
	if decErr != nil {
		return summary, errors.Join(decErr, out.Abort())
	}

	summary.Sources = saver.sources
	summary.Mapped = len(saver.table)

	if len(saver.table) > 0 {
		writeErr := linemap.WriteFile(req.LineMap, saver.table)
		if writeErr != nil {
			return summary, errors.Join(writeErr, out.Abort())
		}
	}

	commitErr := out.Commit()
	if commitErr != nil {
		return summary, errors.Join(commitErr, linemap.Remove(req.LineMap))
	}

	return summary, nil
}

func readUnits(path string) ([]decompiler.Unit, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	archived := r.Units()
	units := make([]decompiler.Unit, 0, len(archived))

	for _, u := range archived {
		data, readErr := u.Read()
		if readErr != nil {
			return nil, readErr
		}

		units = append(units, decompiler.Unit{Name: u.Name, Data: data})
	}

	return units, nil
}

// saver writes sources into the staged archive and keeps the line map
// entries of units whose lines diverge.
type saver struct {
	mu      sync.Mutex
	out     *archive.Writer
	table   linemap.Table
	sources int
}

func newSaver(out *archive.Writer) *saver {
	return &saver{out: out, table: make(linemap.Table)}
}

func (s *saver) SaveSource(unit string, source []byte, lines [][2]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.out.Add(classfile.SourcePath(unit), source)
	if err != nil {
		return err
	}

	s.sources++

	entry := linemap.NewEntry(lines)
	if entry.Diverges() {
		s.table[unit] = entry
	}

	return nil
}
