package rewrite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/linemap"
)

func encodeClass(name string, lines ...uint16) []byte {
	c := &classfile.Class{
		Name:        name,
		SuperName:   "java/lang/Object",
		AccessFlags: classfile.AccPublic | classfile.AccSuper,
		Methods: []classfile.Method{
			{Name: "m", Descriptor: "()V", AccessFlags: classfile.AccPublic, Lines: classfile.Lines(lines...)},
		},
	}

	return c.Encode()
}

func debugLines(t *testing.T, data []byte) []uint16 {
	t.Helper()

	c, err := classfile.Parse(data)
	require.NoError(t, err)

	var out []uint16

	for _, m := range c.Methods {
		for _, ln := range m.Lines {
			out = append(out, ln.Line)
		}
	}

	return out
}

func TestClass_Clamping(t *testing.T) {
	t.Parallel()

	entry := &linemap.Entry{Lines: map[int]int{}, MaxSourceLine: 10, MaxDestLine: 20}
	data := encodeClass("a/A", 15, 1000, 0, 12)

	out, changed, err := Class(data, entry)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.Equal(t, []uint16{20, 20, 0, 20}, debugLines(t, out))
	assert.Len(t, out, len(data))
	assert.Equal(t, []uint16{15, 1000, 0, 12}, debugLines(t, data), "input must not be modified")
}

func TestClass_ClampedOutputIsStable(t *testing.T) {
	t.Parallel()

	entry := &linemap.Entry{Lines: map[int]int{}, MaxSourceLine: 10, MaxDestLine: 20}

	once, _, err := Class(encodeClass("a/A", 15, 1000, 12), entry)
	require.NoError(t, err)

	twice, changed, err := Class(once, entry)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, once, twice)
}

func TestClass_ForwardScan(t *testing.T) {
	t.Parallel()

	entry := &linemap.Entry{Lines: map[int]int{5: 50}, MaxSourceLine: 10, MaxDestLine: 99}

	out, _, err := Class(encodeClass("a/A", 7, 5, 6), entry)
	require.NoError(t, err)
	assert.Equal(t, []uint16{99, 50, 99}, debugLines(t, out))
}

func TestClass_OutOfRange(t *testing.T) {
	t.Parallel()

	entry := &linemap.Entry{Lines: map[int]int{1: 70000}, MaxSourceLine: 5, MaxDestLine: 70000}

	_, _, err := Class(encodeClass("a/A", 1), entry)
	require.ErrorIs(t, err, ErrLineOutOfRange)
}

func TestClass_Malformed(t *testing.T) {
	t.Parallel()

	_, _, err := Class([]byte{0xCA, 0xFE}, linemap.NewEntry(nil))
	require.ErrorIs(t, err, classfile.ErrMalformed)
}

func writeScenario(t *testing.T, path string) map[string][]byte {
	t.Helper()

	entries := map[string][]byte{
		"foo/Bar.class":        encodeClass("foo/Bar", 1, 2, 3),
		"foo/Bar$1.class":      encodeClass("foo/Bar$1", 2),
		"foo/Baz.class":        encodeClass("foo/Baz", 1, 2),
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
	}

	require.NoError(t, archive.WriteFiles(path, entries))

	return entries
}

func TestArchive_EndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.jar")
	dst := filepath.Join(dir, "out.jar")
	entries := writeScenario(t, src)

	table := linemap.Table{
		"foo/Bar": {Lines: map[int]int{2: 5}, MaxSourceLine: 3, MaxDestLine: 9},
	}

	stats, err := Archive(context.Background(), src, dst, table, Options{})
	require.NoError(t, err)

	assert.Equal(t, Stats{Units: 3, Rewritten: 2, Copied: 1, Lines: 4}, stats)

	got, err := archive.ReadFiles(dst)
	require.NoError(t, err)

	// Line 1 scans forward to key 2, line 3 clamps.
	assert.Equal(t, []uint16{5, 5, 9}, debugLines(t, got["foo/Bar.class"]))
	assert.Equal(t, []uint16{5}, debugLines(t, got["foo/Bar$1.class"]))
	assert.Equal(t, entries["foo/Baz.class"], got["foo/Baz.class"])
	assert.Equal(t, entries["META-INF/MANIFEST.MF"], got["META-INF/MANIFEST.MF"])
}

func TestArchive_UnmappedUnitsAreRawCopies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.jar")
	dst := filepath.Join(dir, "out.jar")
	writeScenario(t, src)

	stats, err := Archive(context.Background(), src, dst, linemap.Table{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Copied)

	before, err := archive.Open(src)
	require.NoError(t, err)

	defer before.Close()

	after, err := archive.Open(dst)
	require.NoError(t, err)

	defer after.Close()

	require.Len(t, after.Files(), len(before.Files()))

	for i, f := range before.Files() {
		assert.Equal(t, f.Name, after.Files()[i].Name)
		assert.Equal(t, f.CRC32, after.Files()[i].CRC32)
		assert.Equal(t, f.CompressedSize64, after.Files()[i].CompressedSize64)
	}
}

func TestArchive_InPlaceWithReplacement(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runtime.jar")
	writeScenario(t, path)

	prior := encodeClass("foo/Baz", 40, 41)
	table := linemap.Table{
		"foo/Bar": {Lines: map[int]int{2: 5}, MaxSourceLine: 3, MaxDestLine: 9},
	}

	stats, err := Archive(context.Background(), path, path, table, Options{
		Replace: map[string][]byte{"foo/Baz": prior},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replaced)

	got, err := archive.ReadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, prior, got["foo/Baz.class"])
	assert.Equal(t, []uint16{5, 5, 9}, debugLines(t, got["foo/Bar.class"]))
}

func TestArchive_UnitNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "runtime.jar")
	dst := filepath.Join(dir, "out.jar")
	writeScenario(t, src)

	table := linemap.Table{"foo/Missing": linemap.NewEntry([][2]int{{1, 2}})}

	_, err := Archive(context.Background(), src, dst, table, Options{})
	require.ErrorIs(t, err, ErrUnitNotFound)
	assert.NoFileExists(t, dst)
	assert.NoFileExists(t, dst+".tmp")
}

func TestArchive_LineNotFound(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "runtime.jar")
	writeScenario(t, src)

	tests := []struct {
		name  string
		table linemap.Table
		want  error
	}{
		{
			name:  "lines beyond the class",
			table: linemap.Table{"foo/Bar": linemap.NewEntry([][2]int{{500, 900}, {400, 800}})},
			want:  ErrLineNotFound,
		},
		{
			name:  "one missing line",
			table: linemap.Table{"foo/Baz": linemap.NewEntry([][2]int{{1, 3}, {7, 8}})},
			want:  ErrLineNotFound,
		},
		{
			name:  "every line present",
			table: linemap.Table{"foo/Bar": {Lines: map[int]int{2: 5}, MaxSourceLine: 3, MaxDestLine: 9}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := filepath.Join(t.TempDir(), "out.jar")

			_, err := Archive(context.Background(), src, out, tt.table, Options{})
			if tt.want == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.want)
			assert.NoFileExists(t, out)
		})
	}
}

func TestArchive_LineCheckSkipsReplacedUnits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runtime.jar")
	writeScenario(t, path)

	table := linemap.Table{"foo/Baz": linemap.NewEntry([][2]int{{40, 41}})}

	stats, err := Archive(context.Background(), path, path, table, Options{
		Replace: map[string][]byte{"foo/Baz": encodeClass("foo/Baz", 41)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replaced)
}
