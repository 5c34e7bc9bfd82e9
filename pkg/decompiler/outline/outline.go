// Package outline is a built-in decompiler that emits a structural source
// outline of every top-level unit: package, class header, nested classes and
// one skeleton per method carrying a marker for each debug line. It does not
// reconstruct method bodies.
package outline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
)

// Name is the registry name of this decompiler.
const Name = "outline"

// Option keys.
const (
	OptionIndent = "indent"
	OptionHeader = "header"
)

const (
	defaultIndent = 4
	maxIndent     = 16
)

// ErrBadOption is returned for unknown or invalid options.
var ErrBadOption = errors.New("invalid outline option")

// Register adds the outline decompiler to reg.
func Register(reg *decompiler.Registry) error {
	return reg.Register(Name, New)
}

// Decompiler is the outline decompiler.
type Decompiler struct{}

// New returns an outline decompiler.
func New() decompiler.Decompiler { return &Decompiler{} }

// Name returns "outline".
func (*Decompiler) Name() string { return Name }

type settings struct {
	indent int
	header bool
}

func parseOptions(options map[string]string) (settings, error) {
	s := settings{indent: defaultIndent, header: true}

	for _, key := range slices.Sorted(maps.Keys(options)) {
		value := options[key]

		switch key {
		case OptionIndent:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > maxIndent {
				return s, fmt.Errorf("%w: %s=%q (want 0..%d)", ErrBadOption, key, value, maxIndent)
			}

			s.indent = n
		case OptionHeader:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return s, fmt.Errorf("%w: %s=%q", ErrBadOption, key, value)
			}

			s.header = b
		default:
			return s, fmt.Errorf("%w: unknown key %q", ErrBadOption, key)
		}
	}

	return s, nil
}

// group is one top-level unit with its nested units.
type group struct {
	top    string
	outer  *classfile.Class
	nested []*classfile.Class
}

// Decompile renders every top-level unit of job in parallel and hands each
// source to saver. The first failure cancels the remaining work.
func (d *Decompiler) Decompile(ctx context.Context, job decompiler.Job, saver decompiler.ResultSaver) error {
	opts, err := parseOptions(job.Options)
	if err != nil {
		return err
	}

	logger := job.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reporter := job.Reporter
	if reporter == nil {
		reporter = progress.Discard()
	}

	cp := job.Classpath
	if cp == nil {
		cp, err = decompiler.NewClasspath(nil, 0)
		if err != nil {
			return err
		}
	}

	groups, err := groupUnits(job.Units)
	if err != nil {
		return err
	}

	for _, g := range groups {
		cp.AddLocal(g.top)

		for _, n := range g.nested {
			cp.AddLocal(n.Name)
		}
	}

	threads := job.MaxThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	total := len(groups)

	var done atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(threads)

	for _, g := range groups {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}

			r := newRenderer(opts, cp, logger)

			source, lines, renderErr := r.render(g)
			if renderErr != nil {
				return fmt.Errorf("unit %s: %w", g.top, renderErr)
			}

			saveErr := saver.SaveSource(g.top, source, lines)
			if saveErr != nil {
				return fmt.Errorf("save %s: %w", g.top, saveErr)
			}

			reporter.Progress(decompiler.ProgressChannel, int(done.Add(1)), total, g.top)

			return nil
		})
	}

	return eg.Wait()
}

func groupUnits(units []decompiler.Unit) ([]*group, error) {
	byTop := make(map[string]*group)

	for _, u := range units {
		c, err := classfile.Parse(u.Data)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}

		top := classfile.TopLevel(u.Name)

		g, ok := byTop[top]
		if !ok {
			g = &group{top: top}
			byTop[top] = g
		}

		if u.Name == top {
			g.outer = c
		} else {
			g.nested = append(g.nested, c)
		}
	}

	out := make([]*group, 0, len(byTop))

	for _, top := range slices.Sorted(maps.Keys(byTop)) {
		g := byTop[top]
		slices.SortFunc(g.nested, func(a, b *classfile.Class) int { return strings.Compare(a.Name, b.Name) })

		out = append(out, g)
	}

	return out, nil
}
