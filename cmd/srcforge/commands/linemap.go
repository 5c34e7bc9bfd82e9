package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/rewrite"
)

func newLineMapCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linemap",
		Short: "Inspect or apply line map files",
	}

	cmd.AddCommand(newLineMapShowCommand(a), newLineMapApplyCommand(a))

	return cmd
}

func newLineMapShowCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Print the entries of a line map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateFormat(format)
			if err != nil {
				return err
			}

			lm, err := linemap.ReadFile(args[0])
			if err != nil {
				return err
			}

			return renderLineMap(cmd.OutOrStdout(), lm, format, a.verbose)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml")

	return cmd
}

// lineMapEntry is the serialized form of one line map entry.
type lineMapEntry struct {
	Unit    string   `json:"unit"             yaml:"unit"`
	MaxSrc  int      `json:"max_source"       yaml:"max_source"`
	MaxDst  int      `json:"max_dest"         yaml:"max_dest"`
	Mapping [][2]int `json:"mapping,omitempty" yaml:"mapping,omitempty,flow"`
}

func renderLineMap(w io.Writer, t linemap.Table, format string, detailed bool) error {
	entries := make([]lineMapEntry, 0, len(t))

	for _, unit := range t.Units() {
		e := t[unit]
		entries = append(entries, lineMapEntry{
			Unit:    unit,
			MaxSrc:  e.MaxSourceLine,
			MaxDst:  e.MaxDestLine,
			Mapping: e.Pairs(),
		})
	}

	if format != formatText {
		return writeStructured(w, entries, format)
	}

	tbl := newKVTable(w)
	tbl.AppendHeader(table.Row{"unit", "max source", "max dest", "records"})

	for _, e := range entries {
		tbl.AppendRow(table.Row{e.Unit, e.MaxSrc, e.MaxDst, len(e.Mapping)})

		if !detailed {
			continue
		}

		for _, p := range e.Mapping {
			tbl.AppendRow(table.Row{"", strconv.Itoa(p[0]) + " -> " + strconv.Itoa(p[1]), "", ""})
		}
	}

	tbl.Render()

	return nil
}

func newLineMapApplyCommand(a *app) *cobra.Command {
	var lineMapPath, in, out string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Rewrite the line tables of an archive from a line map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lineMapPath == "" || in == "" || out == "" {
				return fmt.Errorf("%w: --linemap, --in and --out are required", ErrMissingPath)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			s, err := a.start(cmd, observability.ModeCLI, "")
			if err != nil {
				return err
			}

			defer s.end(ctx)

			lm, err := linemap.ReadFile(lineMapPath)
			if err != nil {
				return err
			}

			stats, err := rewrite.Archive(ctx, in, out, lm, rewrite.Options{Logger: s.logger})
			if err != nil {
				return err
			}

			if a.quiet {
				return nil
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d classes rewritten, %d lines changed, %d entries copied\n",
				stats.Rewritten, stats.Lines, stats.Copied)

			return err
		},
	}

	cmd.Flags().StringVar(&lineMapPath, "linemap", "", "Line map file")
	cmd.Flags().StringVar(&in, "in", "", "Archive to read")
	cmd.Flags().StringVar(&out, "out", "", "Archive to write (may equal --in)")

	return cmd
}
