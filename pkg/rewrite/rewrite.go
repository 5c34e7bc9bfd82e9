// Package rewrite projects a line map onto the debug line tables of compiled
// units, in place and without touching any other byte.
package rewrite

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
	"github.com/Sumatoshi-tech/srcforge/pkg/safeconv"
)

const tracerName = "srcforge/rewrite"

// Sentinel errors.
var (
	// ErrUnitNotFound is returned when a line map entry names a unit the
	// archive does not contain.
	ErrUnitNotFound = errors.New("line map unit not found in archive")
	// ErrLineNotFound is returned when a line map entry keys a debug line
	// that no unit of its top-level group carries.
	ErrLineNotFound = errors.New("line map line not found in unit")
	// ErrLineOutOfRange is returned when a remapped line does not fit the
	// class file's u2 line field.
	ErrLineOutOfRange = errors.New("remapped line out of range")
)

// Class rewrites every LineNumberTable record of data according to entry and
// returns the new bytes and the number of records whose value changed. The
// input slice is not modified.
func Class(data []byte, entry *linemap.Entry) ([]byte, int, error) {
	return rewriteClass(data, entry, nil)
}

// rewriteClass is Class that also records every original debug line into
// present when it is non-nil.
func rewriteClass(data []byte, entry *linemap.Entry, present map[int]bool) ([]byte, int, error) {
	class, err := classfile.Parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("parse class: %w", err)
	}

	out := make([]byte, len(data))
	copy(out, data)

	changed := 0

	for _, m := range class.Methods {
		for _, ln := range m.Lines {
			if present != nil {
				present[int(ln.Line)] = true
			}

			mapped := entry.Remap(int(ln.Line))

			line, ok := safeconv.IntToUint16(mapped)
			if !ok {
				return nil, 0, fmt.Errorf("%w: %s.%s line %d -> %d", ErrLineOutOfRange, class.Name, m.Name, ln.Line, mapped)
			}

			if line == ln.Line {
				continue
			}

			binary.BigEndian.PutUint16(out[ln.Offset:], line)
			changed++
		}
	}

	return out, changed, nil
}

// Options tune an archive rewrite.
type Options struct {
	// Replace maps unit names to bytes written verbatim instead of the
	// archive's own entry. Replaced units are never rewritten.
	Replace map[string][]byte
	Logger  *slog.Logger
}

// Stats summarizes an archive rewrite.
type Stats struct {
	Units     int `json:"units"     yaml:"units"`
	Rewritten int `json:"rewritten" yaml:"rewritten"`
	Replaced  int `json:"replaced"  yaml:"replaced"`
	Copied    int `json:"copied"    yaml:"copied"`
	Lines     int `json:"lines"     yaml:"lines"`
}

// Archive writes dst as a copy of src in which every unit with a table entry
// (looked up by top-level name) has its line tables rewritten. Entries that
// are not compiled units and units without an entry are copied raw. src and
// dst may be the same path; the destination is replaced atomically.
func Archive(ctx context.Context, src, dst string, table linemap.Table, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "srcforge.rewrite",
		trace.WithAttributes(
			attribute.Int("rewrite.table_units", len(table)),
			attribute.Int("rewrite.replacements", len(opts.Replace)),
		))
	defer span.End()

	stats, err := rewriteArchive(src, dst, table, opts)

	span.SetAttributes(
		attribute.Int("rewrite.units", stats.Units),
		attribute.Int("rewrite.rewritten", stats.Rewritten),
		attribute.Int("rewrite.lines", stats.Lines),
	)

	if err != nil {
		span.RecordError(err)

		return stats, err
	}

	logger.Debug("rewrite: archive done",
		"src", src, "dst", dst,
		"units", stats.Units, "rewritten", stats.Rewritten,
		"replaced", stats.Replaced, "lines", stats.Lines)

	return stats, nil
}

func rewriteArchive(src, dst string, table linemap.Table, opts Options) (Stats, error) {
	var stats Stats

	r, err := archive.Open(src)
	if err != nil {
		return stats, err
	}

	w, err := archive.Create(dst)
	if err != nil {
		return stats, errors.Join(err, r.Close())
	}

	copyErr := copyEntries(r, w, table, opts, &stats)

	closeErr := r.Close()
	if copyErr != nil || closeErr != nil {
		return stats, errors.Join(copyErr, closeErr, w.Abort())
	}

	return stats, w.Commit()
}

func copyEntries(r *archive.Reader, w *archive.Writer, table linemap.Table, opts Options, stats *Stats) error {
	seen := make(map[string]bool, len(table))
	present := make(map[string]map[int]bool, len(table))
	replaced := make(map[string]bool)

	for _, f := range r.Files() {
		unit, isUnit := classfile.UnitName(f.Name)
		if !isUnit {
			err := w.Copy(f)
			if err != nil {
				return err
			}

			continue
		}

		stats.Units++

		top := classfile.TopLevel(unit)
		entry, mapped := table[top]

		if mapped {
			seen[top] = true
		}

		if replacement, ok := opts.Replace[unit]; ok {
			err := w.Add(f.Name, replacement)
			if err != nil {
				return err
			}

			stats.Replaced++
			replaced[top] = true

			continue
		}

		if !mapped {
			err := w.Copy(f)
			if err != nil {
				return err
			}

			stats.Copied++

			continue
		}

		if present[top] == nil {
			present[top] = make(map[int]bool)
		}

		err := rewriteEntry(w, archive.Unit{Name: unit, File: f}, entry, present[top], stats)
		if err != nil {
			return err
		}
	}

	for _, name := range table.Units() {
		if !seen[name] {
			return fmt.Errorf("%w: %s in %s", ErrUnitNotFound, name, r.Path())
		}

		// Replaced units carry lines of an earlier run, not of this table.
		if replaced[name] {
			continue
		}

		for _, pair := range table[name].Pairs() {
			if !present[name][pair[0]] {
				return fmt.Errorf("%w: %s line %d in %s", ErrLineNotFound, name, pair[0], r.Path())
			}
		}
	}

	return nil
}

func rewriteEntry(w *archive.Writer, unit archive.Unit, entry *linemap.Entry, present map[int]bool, stats *Stats) error {
	data, err := unit.Read()
	if err != nil {
		return err
	}

	out, changed, err := rewriteClass(data, entry, present)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", unit.Name, err)
	}

	if changed == 0 {
		stats.Copied++

		return w.Copy(unit.File)
	}

	stats.Rewritten++
	stats.Lines += changed

	return w.Add(unit.File.Name, out)
}
