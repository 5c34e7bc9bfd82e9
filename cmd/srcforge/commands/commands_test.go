package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
)

var errRegistry = errors.New("registry unavailable")

func noopObservability(observability.Config) (observability.Providers, error) {
	return observability.Providers{}, nil
}

// execute runs the command tree with args and returns stdout and stderr.
func execute(t *testing.T, registry RegistryProvider, args ...string) (string, string, error) {
	t.Helper()

	if registry == nil {
		registry = BuiltinRegistry
	}

	root := newRootCommand(noopObservability, registry)

	var stdout, stderr bytes.Buffer

	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()

	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "srcforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func encodeClass(name string, lines ...uint16) []byte {
	return (&classfile.Class{
		Name:        name,
		SuperName:   "java/lang/Object",
		AccessFlags: classfile.AccPublic | classfile.AccSuper,
		Methods: []classfile.Method{
			{Name: "run", Descriptor: "()V", AccessFlags: classfile.AccPublic, Lines: classfile.Lines(lines...)},
		},
	}).Encode()
}

type fixture struct {
	dir     string
	config  string
	input   string
	runtime string
	sources string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		config:  writeConfig(t, dir, "decompile:\n  decompiler: outline\nprogress:\n  bar: false\n"),
		input:   filepath.Join(dir, "in.jar"),
		runtime: filepath.Join(dir, "run.jar"),
		sources: filepath.Join(dir, "in-sources.jar"),
	}

	entries := map[string][]byte{
		"foo/Bar.class":        encodeClass("foo/Bar", 1, 2, 3),
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
	}

	require.NoError(t, archive.WriteFiles(f.input, entries))
	require.NoError(t, archive.WriteFiles(f.runtime, entries))

	return f
}

func TestDecompile_JSONReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	stdout, _, err := execute(t, nil,
		"decompile", "--config", f.config,
		"--input", f.input, "--runtime", f.runtime, "--sources", f.sources,
		"--no-socket", "--format", "json")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "completed", report["state"])
	assert.Equal(t, "outline", report["decompiler"])
	assert.InDelta(t, 1, report["units"], 0)
	assert.NotContains(t, report, "error")

	files, err := archive.ReadFiles(f.sources)
	require.NoError(t, err)
	assert.Contains(t, files, "foo/Bar"+classfile.SourceSuffix)
}

func TestDecompile_TextReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	stdout, _, err := execute(t, nil,
		"decompile", "--config", f.config,
		"--input", f.input, "--sources", f.sources, "--no-socket")
	require.NoError(t, err)
	assert.Contains(t, stdout, "srcforge decompile:")
	assert.Contains(t, stdout, "direct output")
	assert.Contains(t, stdout, "outline")
}

func TestDecompile_Quiet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	stdout, _, err := execute(t, nil,
		"decompile", "-q", "--config", f.config,
		"--input", f.input, "--sources", f.sources, "--no-socket")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestDecompile_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{
			name: "missing input",
			args: []string{"decompile", "--config", f.config, "--sources", f.sources},
			want: ErrMissingPath,
		},
		{
			name: "bad format",
			args: []string{"decompile", "--config", f.config, "--input", f.input, "--sources", f.sources, "--format", "xml"},
			want: ErrUnknownFormat,
		},
		{
			name: "bad option",
			args: []string{
				"decompile", "--config", f.config, "--input", f.input, "--sources", f.sources,
				"--no-socket", "--option", "novalue",
			},
			want: ErrBadOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := execute(t, nil, tt.args...)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, ExitError, ExitCode(err))
		})
	}
}

func TestDecompile_UnknownDecompiler(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, _, err := execute(t, nil,
		"decompile", "-q", "--config", f.config, "--decompiler", "nope",
		"--input", f.input, "--sources", f.sources, "--no-socket")
	require.Error(t, err)
	assert.Equal(t, ExitWorker, ExitCode(err))

	_, statErr := os.Stat(f.sources)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecompile_RegistryError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, _, err := execute(t, func() (*decompiler.Registry, error) { return nil, errRegistry },
		"decompile", "--config", f.config, "--input", f.input, "--sources", f.sources, "--no-socket")
	require.ErrorIs(t, err, errRegistry)
}

func TestDecompile_Incremental(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	snapDir := filepath.Join(f.dir, "snapshots")
	affected := filepath.Join(f.dir, "affected.txt")
	require.NoError(t, os.WriteFile(affected, []byte("# none\n"), 0o600))

	args := []string{
		"decompile", "--config", f.config, "--input", f.input, "--runtime", f.runtime, "--sources", f.sources,
		"--no-socket", "--incremental", "--snapshot-dir", snapDir, "--format", "json",
	}

	_, _, err := execute(t, nil, args...)
	require.NoError(t, err)
	assert.True(t, snapshot.NewManager(snapDir, snapshot.KeyFor(f.input)).Exists())

	stdout, _, err := execute(t, nil, append(args, "--affected-file", affected)...)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "completed", report["state"])
	assert.InDelta(t, 1, report["skipped"], 0)
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	got, err := parseOptions(map[string]string{"a": "1", "b": "2"}, []string{"b=3", " c =x=y", "d="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "x=y", "d": ""}, got)

	_, err = parseOptions(nil, []string{"=v"})
	require.ErrorIs(t, err, ErrBadOption)
}

func TestParseAffected(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"# changed by the weaver",
		"",
		"foo/Bar",
		"  foo.Baz  ",
		"foo/Qux$Inner",
		"foo/Zap.class",
	}, "\n")

	got, err := parseAffected(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"foo/Bar": true, "foo/Baz": true, "foo/Qux": true, "foo/Zap": true}, got)
}

func TestReadAffected_Missing(t *testing.T) {
	t.Parallel()

	_, err := readAffected(filepath.Join(t.TempDir(), "none.txt"))
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	wrap := func(kind error) error {
		return &orchestrator.Error{Kind: kind, Input: "in.jar", Err: errRegistry}
	}

	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errRegistry, ExitError},
		{wrap(orchestrator.ErrEnvironmentUnsupported), ExitUnsupported},
		{wrap(orchestrator.ErrIdleShutdown), ExitIdle},
		{wrap(orchestrator.ErrWorkerFailed), ExitWorker},
		{wrap(orchestrator.ErrPostProcess), ExitPostProcess},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

func TestRenderResult(t *testing.T) {
	t.Parallel()

	res := &orchestrator.Result{
		State:      orchestrator.Completed,
		Isolation:  orchestrator.InProcess,
		Decompiler: "outline",
		Input:      "in.jar",
		Sources:    "in-sources.jar",
		Units:      2,
		Lines:      12345,
	}

	var text bytes.Buffer
	require.NoError(t, renderResult(&text, res, nil, formatText))
	assert.Contains(t, text.String(), "12,345")
	assert.Contains(t, text.String(), "in-sources.jar")

	var yml bytes.Buffer
	require.NoError(t, renderResult(&yml, res, errRegistry, formatYAML))
	assert.Contains(t, yml.String(), "state: completed")
	assert.Contains(t, yml.String(), "units: 2")
	assert.Contains(t, yml.String(), "error: registry unavailable")
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []string{formatText, formatJSON, formatYAML} {
		require.NoError(t, validateFormat(f))
	}

	require.ErrorIs(t, validateFormat("toml"), ErrUnknownFormat)
}

func TestWorkerCommand_RequiresRequest(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, nil, "worker")
	require.ErrorIs(t, err, ErrNoRequest)
}

func TestLineMapCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lmPath := filepath.Join(dir, "x.linemap")
	in := filepath.Join(dir, "run.jar")
	out := filepath.Join(dir, "run-fixed.jar")

	lm := linemap.Table{"foo/Bar": linemap.NewEntry([][2]int{{1, 4}, {2, 6}, {3, 9}})}
	require.NoError(t, linemap.WriteFile(lmPath, lm))

	require.NoError(t, archive.WriteFiles(in, map[string][]byte{
		"foo/Bar.class": encodeClass("foo/Bar", 1, 2, 3),
	}))

	stdout, _, err := execute(t, nil, "linemap", "show", lmPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "foo/Bar")

	stdout, _, err = execute(t, nil, "linemap", "show", lmPath, "--format", "json")
	require.NoError(t, err)

	var entries []lineMapEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, [][2]int{{1, 4}, {2, 6}, {3, 9}}, entries[0].Mapping)

	cfg := writeConfig(t, dir, "logging:\n  level: error\n")

	stdout, _, err = execute(t, nil, "linemap", "apply", "--config", cfg,
		"--linemap", lmPath, "--in", in, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 classes rewritten")

	files, err := archive.ReadFiles(out)
	require.NoError(t, err)

	cls, err := classfile.Parse(files["foo/Bar.class"])
	require.NoError(t, err)
	require.Len(t, cls.Methods, 1)

	var lines []uint16
	for _, ln := range cls.Methods[0].Lines {
		lines = append(lines, ln.Line)
	}

	assert.Equal(t, []uint16{4, 6, 9}, lines)

	_, _, err = execute(t, nil, "linemap", "apply", "--linemap", lmPath)
	require.ErrorIs(t, err, ErrMissingPath)
}

func TestDiffCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.jar")
	newPath := filepath.Join(dir, "new.jar")

	require.NoError(t, archive.WriteFiles(oldPath, map[string][]byte{
		"foo/Bar.java":  []byte("a\nb\n"),
		"foo/Gone.java": []byte("x\n"),
	}))
	require.NoError(t, archive.WriteFiles(newPath, map[string][]byte{
		"foo/Bar.java": []byte("a\nc\n"),
		"foo/New.java": []byte("y\n"),
	}))

	stdout, _, err := execute(t, nil, "diff", oldPath, newPath, "--patch")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 added, 1 removed, 1 modified, 0 unchanged")
	assert.Contains(t, stdout, "+c")

	stdout, _, err = execute(t, nil, "diff", oldPath, newPath, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "modified: 1")

	_, _, err = execute(t, nil, "diff", oldPath)
	require.Error(t, err)
}

func TestSnapshotCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.jar")
	m := snapshot.NewManager(dir, snapshot.KeyFor(input))

	snap := snapshot.New()
	snap.InputHashes["foo/Bar"] = "h"
	require.NoError(t, m.Save(snap, snapshot.Metadata{InputPath: input, Fingerprint: "outline"}))

	stdout, _, err := execute(t, nil, "snapshot", "show", "--input", input, "--snapshot-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 units")
	assert.Contains(t, stdout, `"outline"`)

	stdout, _, err = execute(t, nil, "snapshot", "clear", "--input", input, "--snapshot-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "cleared")
	assert.False(t, m.Exists())

	stdout, _, err = execute(t, nil, "snapshot", "clear", "--input", input, "--snapshot-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "no snapshot")

	_, _, err = execute(t, nil, "snapshot", "show", "--input", input, "--snapshot-dir", dir)
	require.ErrorIs(t, err, snapshot.ErrNoSnapshot)

	_, _, err = execute(t, nil, "snapshot", "clear", "--snapshot-dir", dir)
	require.ErrorIs(t, err, ErrMissingPath)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "srcforge "))

	stdout, _, err = execute(t, nil, "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"commit"`)
}

func TestDecompile_DirectProgressOnStderr(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	stdout, stderr, err := execute(t, nil,
		"decompile", "--config", f.config,
		"--input", f.input, "--sources", f.sources, "--no-socket", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stderr, "foo/Bar")
	assert.NotContains(t, stdout, "[")
}
