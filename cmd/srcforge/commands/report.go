package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
)

// Report formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// ErrUnknownFormat is returned for unsupported --format values.
var ErrUnknownFormat = errors.New("unknown format (want text, json or yaml)")

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// runReport is the serialized form of a run.
type runReport struct {
	orchestrator.Result `yaml:",inline"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, v any, format string) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		err := enc.Encode(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}

		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(v)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}

		return nil
	}
}

func renderResult(w io.Writer, res *orchestrator.Result, runErr error, format string) error {
	if format != formatText {
		report := runReport{Result: *res}
		if runErr != nil {
			report.Error = runErr.Error()
		}

		return writeStructured(w, report, format)
	}

	status := color.New(color.FgGreen).Sprint("completed")
	if runErr != nil {
		status = color.New(color.FgRed).Sprint(res.State.String())
	}

	_, err := fmt.Fprintf(w, "srcforge decompile: %s\n", status)
	if err != nil {
		return err
	}

	tbl := newKVTable(w)
	tbl.AppendRows([]table.Row{
		{"input", res.Input},
		{"sources", res.Sources},
		{"runtime", orDash(res.Runtime)},
		{"line map", orDash(res.LineMap)},
		{"decompiler", res.Decompiler},
		{"isolation", string(res.Isolation)},
		{"progress channel", channelLabel(res)},
		{"units", res.Units},
		{"sources written", res.Sourced},
		{"units remapped", res.Mapped},
		{"units skipped", res.Skipped},
		{"units regenerated", res.Regenerated},
		{"classes rewritten", res.Rewritten},
		{"classes replaced", res.Replaced},
		{"lines rewritten", humanize.Comma(int64(res.Lines))},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
	tbl.Render()

	if runErr != nil {
		_, err = color.New(color.FgRed).Fprintf(w, "error: %v\n", runErr)
	}

	return err
}

func newKVTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.SeparateHeader = false
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.Bold}},
	})

	return tbl
}

func channelLabel(res *orchestrator.Result) string {
	if !res.Channel {
		return "direct output"
	}

	return "socket, " + strconv.FormatInt(res.Messages, 10) + " messages"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}

	return d, nil
}
