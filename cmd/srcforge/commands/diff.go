package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/srcforge/pkg/srcdiff"
)

func newDiffCommand(a *app) *cobra.Command {
	var (
		opts    srcdiff.Options
		format  string
		all     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "diff <old-sources.jar> <new-sources.jar>",
		Short: "Compare two source archives file by file",
		Args:  cobra.ExactArgs(2), //nolint:mnd // old and new archive.
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			opts.Timeout = timeout

			report, err := srcdiff.Archives(ctx, args[0], args[1], opts)
			if err != nil {
				return err
			}

			if a.quiet {
				return nil
			}

			return renderDiff(cmd.OutOrStdout(), report, format, all)
		},
	}

	cmd.Flags().BoolVar(&opts.Patch, "patch", false, "Include changed lines")
	cmd.Flags().BoolVar(&opts.IgnoreWhitespace, "ignore-whitespace", false, "Ignore leading and trailing blanks")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Parallel file diffs (0 = one per CPU)")
	cmd.Flags().DurationVar(&timeout, "diff-timeout", srcdiff.DefaultTimeout, "Bound on a single file diff")
	cmd.Flags().BoolVar(&all, "all", false, "List unchanged files too")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml")

	return cmd
}

func renderDiff(w io.Writer, report *srcdiff.Report, format string, all bool) error {
	if format != formatText {
		return writeStructured(w, report, format)
	}

	files := report.Files
	if !all {
		files = report.Changed()
	}

	tbl := newKVTable(w)
	tbl.AppendHeader(table.Row{"status", "path", "+", "-"})

	for _, f := range files {
		tbl.AppendRow(table.Row{statusLabel(f.Status), f.Path, f.Inserted, f.Deleted})
	}

	tbl.Render()

	_, err := fmt.Fprintf(w, "%d added, %d removed, %d modified, %d unchanged\n",
		report.Added, report.Removed, report.Modified, report.Unchanged)
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.Patch == "" {
			continue
		}

		_, err = io.WriteString(w, f.Patch)
		if err != nil {
			return err
		}
	}

	return nil
}

func statusLabel(s srcdiff.Status) string {
	switch s {
	case srcdiff.Added:
		return color.New(color.FgGreen).Sprint(string(s))
	case srcdiff.Removed:
		return color.New(color.FgRed).Sprint(string(s))
	case srcdiff.Modified:
		return color.New(color.FgYellow).Sprint(string(s))
	case srcdiff.Unchanged:
		return string(s)
	}

	return string(s)
}
