// Package incremental lets a decompile run regenerate only the units a
// downstream bytecode step reports as affected. Everything else is taken
// from the previous run's snapshot.
package incremental

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
)

const (
	tracerName     = "srcforge/incremental"
	filteredSuffix = ".affected.jar"
)

// Controller plans incremental runs against a snapshot store.
type Controller struct {
	Snapshots *snapshot.Manager
	// Fingerprint identifies the decompiler configuration; a snapshot made
	// with another fingerprint is ignored.
	Fingerprint string
	// WorkDir receives the filtered input archive; empty means the OS temp dir.
	WorkDir string
	Logger  *slog.Logger
}

// Plan is the outcome of partitioning one input archive.
type Plan struct {
	// Input is the archive to decompile: the original input when every unit
	// is affected, a filtered copy when some are not, empty when none are.
	Input     string
	Source    string
	Partition Partition

	hashes   map[string]string
	previous *snapshot.Snapshot
	filtered bool
}

// Skipped is the number of top-level units reused from the snapshot.
func (p *Plan) Skipped() int { return p.Partition.Count(Unaffected) }

// Regenerated is the number of top-level units sent to the decompiler.
func (p *Plan) Regenerated() int { return p.Partition.Count(Affected) }

// Replacements returns the previously rewritten bytes of every unaffected
// unit, nested ones included, keyed by unit name.
func (p *Plan) Replacements() map[string][]byte {
	out := make(map[string][]byte)
	if p.previous == nil {
		return out
	}

	for name := range p.hashes {
		if p.Partition.Of(name) != Unaffected {
			continue
		}

		if data, ok := p.previous.Rewritten[name]; ok {
			out[name] = data
		}
	}

	return out
}

// Cleanup removes the filtered input archive, if one was written.
func (p *Plan) Cleanup() error {
	if !p.filtered {
		return nil
	}

	err := os.Remove(p.Input)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove filtered input: %w", err)
	}

	return nil
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}

// Plan partitions the units of input. Units whose top-level name satisfies
// isAffected are always regenerated; the rest are reused when the snapshot
// saw exactly the same input bytes.
func (c *Controller) Plan(ctx context.Context, input string, isAffected func(string) bool) (*Plan, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "srcforge.incremental.plan")
	defer span.End()

	hashes, err := hashUnits(input)
	if err != nil {
		return nil, err
	}

	prev := c.previous()
	plan := &Plan{
		Source:    input,
		Partition: Classify(hashes, prev, isAffected),
		hashes:    hashes,
		previous:  prev,
	}

	span.SetAttributes(
		attribute.Int("incremental.skipped", plan.Skipped()),
		attribute.Int("incremental.regenerated", plan.Regenerated()),
	)

	c.logger().InfoContext(ctx, "incremental: plan",
		"input", input, "skipped", plan.Skipped(), "regenerated", plan.Regenerated())

	switch {
	case plan.Regenerated() == 0:
		plan.Input = ""
	case plan.Skipped() == 0:
		plan.Input = input
	default:
		filtered, filterErr := c.writeFiltered(input, plan.Partition)
		if filterErr != nil {
			span.RecordError(filterErr)

			return nil, filterErr
		}

		plan.Input = filtered
		plan.filtered = true
	}

	return plan, nil
}

// previous loads the stored snapshot. Any problem with it means a full run.
func (c *Controller) previous() *snapshot.Snapshot {
	if c.Snapshots == nil || !c.Snapshots.Exists() {
		return nil
	}

	err := c.Snapshots.Validate(c.Fingerprint)
	if err != nil {
		c.logger().Info("incremental: snapshot ignored", "error", err)

		return nil
	}

	snap, err := c.Snapshots.Load()
	if err != nil {
		c.logger().Warn("incremental: snapshot unreadable", "error", err)

		return nil
	}

	return snap
}

func hashUnits(path string) (map[string]string, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	hashes := make(map[string]string)

	for _, u := range r.Units() {
		data, readErr := u.Read()
		if readErr != nil {
			return nil, readErr
		}

		hashes[u.Name] = snapshot.HashBytes(data)
	}

	return hashes, nil
}

func (c *Controller) writeFiltered(input string, p Partition) (string, error) {
	dir := c.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "srcforge-"+snapshot.KeyFor(input)+filteredSuffix)

	r, err := archive.Open(input)
	if err != nil {
		return "", err
	}
	defer r.Close()

	w, err := archive.Create(path)
	if err != nil {
		return "", err
	}

	for _, u := range r.Units() {
		if p.Of(u.Name) != Affected {
			continue
		}

		copyErr := w.Copy(u.File)
		if copyErr != nil {
			return "", errors.Join(copyErr, w.Abort())
		}
	}

	commitErr := w.Commit()
	if commitErr != nil {
		return "", commitErr
	}

	return path, nil
}

// Splice writes finalSources from the freshly generated workerSources plus
// the cached source of every unaffected top-level unit. workerSources may be
// empty when nothing was regenerated.
func (c *Controller) Splice(ctx context.Context, plan *Plan, workerSources, finalSources string) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "srcforge.incremental.splice",
		trace.WithAttributes(attribute.Int("incremental.skipped", plan.Skipped())))
	defer span.End()

	w, err := archive.Create(finalSources)
	if err != nil {
		return err
	}

	if workerSources != "" {
		copyErr := copyAll(w, workerSources)
		if copyErr != nil {
			return errors.Join(copyErr, w.Abort())
		}
	}

	for _, top := range plan.Partition.Names(Unaffected) {
		path := classfile.SourcePath(top)
		if w.Has(path) {
			continue
		}

		addErr := w.Add(path, plan.previous.Sources[top])
		if addErr != nil {
			return errors.Join(addErr, w.Abort())
		}
	}

	return w.Commit()
}

func copyAll(w *archive.Writer, path string) error {
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.Files() {
		copyErr := w.Copy(f)
		if copyErr != nil {
			return copyErr
		}
	}

	return nil
}

// Commit records finalSources and the rewritten runtime archive as the
// snapshot for the next run.
func (c *Controller) Commit(ctx context.Context, plan *Plan, finalSources, runtimeArchive string) error {
	if c.Snapshots == nil {
		return nil
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "srcforge.incremental.commit")
	defer span.End()

	snap := snapshot.New()
	snap.InputHashes = plan.hashes

	err := readSources(finalSources, snap.Sources)
	if err != nil {
		return err
	}

	err = readRewritten(runtimeArchive, snap.Rewritten)
	if err != nil {
		return err
	}

	saveErr := c.Snapshots.Save(snap, snapshot.Metadata{
		InputPath:   plan.Source,
		Fingerprint: c.Fingerprint,
	})
	if saveErr != nil {
		span.RecordError(saveErr)

		return saveErr
	}

	c.logger().InfoContext(ctx, "incremental: snapshot saved",
		"dir", c.Snapshots.Dir(), "sources", len(snap.Sources), "units", len(snap.Rewritten))

	return nil
}

func readSources(path string, into map[string][]byte) error {
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.Files() {
		unit, ok := classfile.SourceUnit(f.Name)
		if !ok {
			continue
		}

		data, readErr := archive.ReadEntry(f)
		if readErr != nil {
			return readErr
		}

		into[unit] = data
	}

	return nil
}

func readRewritten(path string, into map[string][]byte) error {
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, u := range r.Units() {
		data, readErr := u.Read()
		if readErr != nil {
			return readErr
		}

		into[u.Name] = data
	}

	return nil
}
