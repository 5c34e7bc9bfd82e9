// Package srcdiff compares two source archives produced by decompilation
// runs, file by file, at line granularity.
package srcdiff

import (
	"bytes"
	"context"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
)

// DefaultTimeout bounds a single file diff.
const DefaultTimeout = time.Second

// Status classifies one archive entry.
type Status string

// Entry statuses.
const (
	Added     Status = "added"
	Removed   Status = "removed"
	Modified  Status = "modified"
	Unchanged Status = "unchanged"
)

// Options tune a comparison.
type Options struct {
	// Timeout bounds each file diff; zero means DefaultTimeout.
	Timeout time.Duration
	// Patch renders changed lines into FileDiff.Patch.
	Patch bool
	// IgnoreWhitespace compares lines with surrounding blanks trimmed.
	IgnoreWhitespace bool
	// Workers bounds parallel file diffs; zero means one per CPU.
	Workers int
}

// FileDiff is the comparison result of one entry.
type FileDiff struct {
	Path     string `json:"path"            yaml:"path"`
	Status   Status `json:"status"          yaml:"status"`
	Inserted int    `json:"inserted"        yaml:"inserted"`
	Deleted  int    `json:"deleted"         yaml:"deleted"`
	Patch    string `json:"patch,omitempty" yaml:"patch,omitempty"`
	// Binary entries are compared byte for byte without line counts.
	Binary bool `json:"binary,omitempty" yaml:"binary,omitempty"`
}

// Report summarizes a comparison. Files is sorted by path.
type Report struct {
	Files     []FileDiff `json:"files"     yaml:"files"`
	Added     int        `json:"added"     yaml:"added"`
	Removed   int        `json:"removed"   yaml:"removed"`
	Modified  int        `json:"modified"  yaml:"modified"`
	Unchanged int        `json:"unchanged" yaml:"unchanged"`
}

// Changed returns the entries that are not Unchanged.
func (r *Report) Changed() []FileDiff {
	out := make([]FileDiff, 0, len(r.Files))

	for _, f := range r.Files {
		if f.Status != Unchanged {
			out = append(out, f)
		}
	}

	return out
}

// Archives compares every entry of the archives at oldPath and newPath.
func Archives(ctx context.Context, oldPath, newPath string, opts Options) (*Report, error) {
	oldFiles, err := archive.ReadFiles(oldPath)
	if err != nil {
		return nil, err
	}

	newFiles, err := archive.ReadFiles(newPath)
	if err != nil {
		return nil, err
	}

	return Compare(ctx, oldFiles, newFiles, opts)
}

// Compare diffs two entry sets keyed by path.
func Compare(ctx context.Context, oldFiles, newFiles map[string][]byte, opts Options) (*Report, error) {
	paths := slices.Sorted(maps.Keys(oldFiles))
	for p := range newFiles {
		if _, ok := oldFiles[p]; !ok {
			paths = append(paths, p)
		}
	}

	slices.Sort(paths)

	files := make([]FileDiff, len(paths))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i, p := range paths {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}

			oldData, inOld := oldFiles[p]
			newData, inNew := newFiles[p]

			files[i] = diffEntry(p, oldData, newData, inOld, inNew, opts)

			return nil
		})
	}

	err := eg.Wait()
	if err != nil {
		return nil, err
	}

	report := &Report{Files: files}

	for _, f := range files {
		switch f.Status {
		case Added:
			report.Added++
		case Removed:
			report.Removed++
		case Modified:
			report.Modified++
		case Unchanged:
			report.Unchanged++
		}
	}

	return report, nil
}

// binarySniffLength is how many leading bytes are scanned for a NUL.
const binarySniffLength = 8000

// isBinary reports whether data holds a NUL byte within its first
// binarySniffLength bytes.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binarySniffLength)], 0) >= 0
}

func diffEntry(path string, oldData, newData []byte, inOld, inNew bool, opts Options) FileDiff {
	if isBinary(oldData) || isBinary(newData) {
		fd := FileDiff{Path: path, Status: Modified, Binary: true}

		switch {
		case !inOld:
			fd.Status = Added
		case !inNew:
			fd.Status = Removed
		case bytes.Equal(oldData, newData):
			fd.Status = Unchanged
		}

		return fd
	}

	switch {
	case !inOld:
		fd := Text(path, "", string(newData), opts)
		fd.Status = Added

		return fd
	case !inNew:
		fd := Text(path, string(oldData), "", opts)
		fd.Status = Removed

		return fd
	default:
		return Text(path, string(oldData), string(newData), opts)
	}
}

var dmpPool = sync.Pool{New: func() any { return diffmatchpatch.New() }}

// Text diffs two versions of one file line by line.
func Text(path, oldText, newText string, opts Options) FileDiff {
	fd := FileDiff{Path: path, Status: Unchanged}

	if opts.IgnoreWhitespace {
		oldText = trimLines(oldText)
		newText = trimLines(newText)
	}

	if oldText == newText {
		return fd
	}

	dmp, _ := dmpPool.Get().(*diffmatchpatch.DiffMatchPatch)
	defer dmpPool.Put(dmp)

	dmp.DiffTimeout = opts.Timeout
	if dmp.DiffTimeout <= 0 {
		dmp.DiffTimeout = DefaultTimeout
	}

	src, dst, lines := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffCleanupMerge(dmp.DiffMainRunes(src, dst, false))

	// Each rune stands for one line until the diffs are expanded.
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fd.Inserted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			fd.Deleted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}

	if fd.Inserted > 0 || fd.Deleted > 0 {
		fd.Status = Modified
	}

	if opts.Patch {
		fd.Patch = renderPatch(path, dmp.DiffCharsToLines(diffs, lines))
	}

	return fd
}

// renderPatch lists every inserted and deleted line under a unified header.
// Equal runs are elided.
func renderPatch(path string, diffs []diffmatchpatch.Diff) string {
	var b strings.Builder

	b.WriteString("--- a/" + path + "\n")
	b.WriteString("+++ b/" + path + "\n")

	for _, d := range diffs {
		prefix := ""

		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffEqual:
			continue
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			b.WriteString(prefix + line)

			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}

	return strings.Join(lines, "\n")
}
