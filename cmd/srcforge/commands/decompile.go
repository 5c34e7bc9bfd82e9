package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/config"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/incremental"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
	"github.com/Sumatoshi-tech/srcforge/pkg/units"
)

var (
	// ErrMissingPath is returned when a required archive path flag is empty.
	ErrMissingPath = errors.New("required path not set")
	// ErrBadOption is returned for --option values without "=".
	ErrBadOption = errors.New("option must be key=value")
)

// DecompileCommand holds the flags of the decompile command.
type DecompileCommand struct {
	app *app

	input    string
	runtime  string
	sources  string
	mappings string

	classpath     []string
	decompilerArg string
	threads       int
	memory        string
	options       []string
	isolation     string
	workerTimeout string

	incremental  bool
	affectedFile string
	snapshotDir  string

	noSocket        bool
	format          string
	metricsTextfile string
}

func newDecompileCommand(a *app) *cobra.Command {
	dc := &DecompileCommand{app: a}

	cmd := &cobra.Command{
		Use:   "decompile",
		Short: "Decompile an archive and align the runtime archive's line numbers",
		Long: `Decompile every compiled unit of --input into --sources, then rewrite the
line tables of --runtime so debug line numbers match the produced sources.
The line map is written next to the sources with a .linemap extension.`,
		Args: cobra.NoArgs,
		RunE: dc.run,
	}

	cmd.Flags().StringVar(&dc.input, "input", "", "Compiled archive to decompile")
	cmd.Flags().StringVar(&dc.runtime, "runtime", "", "Archive whose line tables are rewritten (empty = skip)")
	cmd.Flags().StringVar(&dc.sources, "sources", "", "Source archive to produce")
	cmd.Flags().StringVar(&dc.mappings, "mappings", "", "Name mappings passed to the decompiler")

	cmd.Flags().StringSliceVar(&dc.classpath, "classpath", nil, "Extra archives resolving referenced classes")
	cmd.Flags().StringVar(&dc.decompilerArg, "decompiler", config.DefaultDecompiler, "Decompiler name")
	cmd.Flags().IntVar(&dc.threads, "threads", 0, "Decompiler parallelism (0 = one per CPU)")
	cmd.Flags().StringVar(&dc.memory, "memory", "", "Isolated worker memory bound (e.g. '4GB', '512MiB')")
	cmd.Flags().StringArrayVar(&dc.options, "option", nil, "Decompiler option key=value (repeatable)")
	cmd.Flags().StringVar(&dc.isolation, "isolation", config.DefaultIsolation, "Worker isolation: in-process or isolated")
	cmd.Flags().StringVar(&dc.workerTimeout, "worker-timeout", "", "Bound on one worker pass (e.g. '10m')")

	cmd.Flags().BoolVar(&dc.incremental, "incremental", false, "Reuse output of unaffected units from the previous run")
	cmd.Flags().StringVar(&dc.affectedFile, "affected-file", "", "File listing top-level units changed by the bytecode step")
	cmd.Flags().StringVar(&dc.snapshotDir, "snapshot-dir", "", "Snapshot directory (default: ~/.srcforge/snapshots)")

	cmd.Flags().BoolVar(&dc.noSocket, "no-socket", false, "Disable the progress socket; the worker reports on stdout")
	cmd.Flags().StringVar(&dc.format, "format", formatText, "Report format: text, json, yaml")
	cmd.Flags().StringVar(&dc.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")

	return cmd
}

func (dc *DecompileCommand) run(cmd *cobra.Command, _ []string) error {
	if dc.input == "" || dc.sources == "" {
		return fmt.Errorf("%w: --input and --sources are required", ErrMissingPath)
	}

	err := validateFormat(dc.format)
	if err != nil {
		return err
	}

	s, err := dc.app.start(cmd, observability.ModeCLI, dc.metricsTextfile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	defer s.end(ctx)

	dc.applyFlags(cmd, s.cfg)

	validateErr := s.cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	oc, err := dc.orchestratorConfig(cmd, s)
	if err != nil {
		return err
	}

	res, runErr := orchestrator.New(oc).Run(ctx, dc.input, dc.runtime, dc.mappings)
	if res != nil && !dc.app.quiet {
		renderErr := renderResult(cmd.OutOrStdout(), res, runErr, dc.format)
		if renderErr != nil {
			return errors.Join(runErr, renderErr)
		}
	}

	return runErr
}

// applyFlags overrides configuration values with explicitly set flags.
func (dc *DecompileCommand) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	d := &cfg.Decompile

	if flags.Changed("decompiler") {
		d.Decompiler = dc.decompilerArg
	}

	if flags.Changed("isolation") {
		d.Isolation = dc.isolation
	}

	if flags.Changed("threads") {
		d.Threads = dc.threads
	}

	if flags.Changed("memory") {
		d.Memory = dc.memory
	}

	if flags.Changed("classpath") {
		d.Classpath = dc.classpath
	}

	if flags.Changed("incremental") {
		cfg.Incremental.Enabled = dc.incremental
	}

	if flags.Changed("snapshot-dir") {
		cfg.Incremental.SnapshotDir = dc.snapshotDir
	}

	if dc.noSocket {
		cfg.Progress.Socket = false
	}
}

func (dc *DecompileCommand) orchestratorConfig(cmd *cobra.Command, s *session) (orchestrator.Config, error) {
	d := s.cfg.Decompile

	options, err := parseOptions(d.Options, dc.options)
	if err != nil {
		return orchestrator.Config{}, err
	}

	timeout := d.WorkerTimeout
	if dc.workerTimeout != "" {
		timeout, err = parseDuration(dc.workerTimeout)
		if err != nil {
			return orchestrator.Config{}, err
		}
	}

	reg, err := dc.app.registry()
	if err != nil {
		return orchestrator.Config{}, err
	}

	memory, err := units.ParseMiB(d.Memory)
	if err != nil {
		return orchestrator.Config{}, err
	}

	oc := orchestrator.Config{
		Isolation:     orchestrator.IsolationMode(d.Isolation),
		Decompiler:    d.Decompiler,
		Options:       options,
		MaxThreads:    d.Threads,
		Classpath:     d.Classpath,
		Sources:       dc.sources,
		MemoryMB:      memory,
		WorkerEnv:     dc.app.workerEnv(s.cfg),
		WorkerTimeout: timeout,
		Registry:      reg,
		Transport:     transportFor(s.cfg),
		Sink:          dc.sink(cmd, s),
		Stdout:        dc.directOutput(cmd),
		Stderr:        cmd.ErrOrStderr(),
		Logger:        s.logger,
	}

	if s.providers.Meter != nil {
		metrics, metricsErr := observability.NewRunMetrics(s.providers.Meter)
		if metricsErr != nil {
			return orchestrator.Config{}, metricsErr
		}

		oc.Metrics = metrics
	}

	if s.cfg.Incremental.Enabled {
		oc.Incremental, oc.IsAffected, err = dc.incrementalSetup(s, options)
		if err != nil {
			return orchestrator.Config{}, err
		}
	}

	return oc, nil
}

func (dc *DecompileCommand) incrementalSetup(
	s *session, options map[string]string,
) (*incremental.Controller, func(string) bool, error) {
	dir := s.cfg.Incremental.SnapshotDir
	if dir == "" {
		dir = snapshot.DefaultDir()
	}

	ctrl := &incremental.Controller{
		Snapshots:   snapshot.NewManager(dir, snapshot.KeyFor(dc.input)),
		Fingerprint: decompiler.Fingerprint(s.cfg.Decompile.Decompiler, options),
		Logger:      s.logger,
	}

	if dc.affectedFile == "" {
		return ctrl, nil, nil
	}

	affected, err := readAffected(dc.affectedFile)
	if err != nil {
		return nil, nil, err
	}

	return ctrl, func(top string) bool { return affected[top] }, nil
}

func (dc *DecompileCommand) sink(cmd *cobra.Command, s *session) progress.Sink {
	switch {
	case dc.app.quiet:
		return progress.DiscardSink{}
	case s.cfg.Progress.Bar:
		return progress.NewTerminalSink(cmd.ErrOrStderr())
	default:
		return progress.LogSink{Logger: s.logger}
	}
}

// directOutput receives worker progress when no channel is available. It is
// kept off stdout, which carries the report.
func (dc *DecompileCommand) directOutput(cmd *cobra.Command) io.Writer {
	if dc.app.quiet {
		return io.Discard
	}

	return cmd.ErrOrStderr()
}

func transportFor(cfg *config.Config) progress.Transport {
	if !cfg.Progress.Socket {
		return progress.UnavailableTransport()
	}

	return progress.DetectTransport()
}

// parseOptions merges configured options with key=value flag values, the
// latter winning.
func parseOptions(base map[string]string, kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(base)+len(kvs))
	for k, v := range base {
		out[k] = v
	}

	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadOption, kv)
		}

		out[strings.TrimSpace(k)] = v
	}

	return out, nil
}

// readAffected loads a list of top-level unit names, one per line, in
// internal ("foo/Bar") or binary ("foo.Bar") form. Blank lines and lines
// starting with # are ignored; nested names count for their top-level unit.
func readAffected(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open affected list: %w", err)
	}
	defer f.Close()

	return parseAffected(f)
}

func parseAffected(r io.Reader) (map[string]bool, error) {
	out := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name := strings.TrimSuffix(line, classfile.ClassSuffix)
		name = strings.ReplaceAll(name, ".", "/")
		out[classfile.TopLevel(name)] = true
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read affected list: %w", err)
	}

	return out, nil
}
