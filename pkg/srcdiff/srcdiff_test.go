package srcdiff

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
)

func TestText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		oldText  string
		newText  string
		opts     Options
		status   Status
		inserted int
		deleted  int
	}{
		{name: "identical", oldText: "a\nb\n", newText: "a\nb\n", status: Unchanged},
		{name: "replaced and appended", oldText: "a\nb\nc\n", newText: "a\nB\nc\nd\n", status: Modified, inserted: 2, deleted: 1},
		{name: "removed line", oldText: "a\nb\nc\n", newText: "a\nc\n", status: Modified, deleted: 1},
		{name: "whitespace only", oldText: "a\n  b\n", newText: "a\nb  \n", status: Modified, inserted: 1, deleted: 1},
		{
			name: "whitespace ignored", oldText: "a\n  b\n", newText: "a\nb  \n",
			opts: Options{IgnoreWhitespace: true}, status: Unchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fd := Text("foo/Bar.java", tt.oldText, tt.newText, tt.opts)
			assert.Equal(t, tt.status, fd.Status)
			assert.Equal(t, tt.inserted, fd.Inserted)
			assert.Equal(t, tt.deleted, fd.Deleted)
			assert.Empty(t, fd.Patch)
		})
	}
}

func TestText_Patch(t *testing.T) {
	t.Parallel()

	fd := Text("foo/Bar.java", "a\nb\nc\n", "a\nB\nc\n", Options{Patch: true})

	require.Contains(t, fd.Patch, "--- a/foo/Bar.java\n+++ b/foo/Bar.java\n")
	assert.Contains(t, fd.Patch, "-b\n")
	assert.Contains(t, fd.Patch, "+B\n")

	body := strings.SplitN(fd.Patch, "+++ b/foo/Bar.java\n", 2)[1]
	for _, line := range strings.Split(body, "\n") {
		assert.False(t, strings.HasPrefix(line, "+a") || strings.HasPrefix(line, "-a"), "unchanged line in patch: %q", line)
		assert.False(t, strings.HasPrefix(line, "+c") || strings.HasPrefix(line, "-c"), "unchanged line in patch: %q", line)
	}
}

func TestArchives(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old-sources.jar")
	newPath := filepath.Join(dir, "new-sources.jar")

	require.NoError(t, archive.WriteFiles(oldPath, map[string][]byte{
		"foo/Bar.java":  []byte("class Bar {\n}\n"),
		"foo/Baz.java":  []byte("class Baz {\n}\n"),
		"foo/Gone.java": []byte("class Gone {\n}\n"),
	}))
	require.NoError(t, archive.WriteFiles(newPath, map[string][]byte{
		"foo/Bar.java": []byte("class Bar {\n  void m() {}\n}\n"),
		"foo/Baz.java": []byte("class Baz {\n}\n"),
		"foo/New.java": []byte("class New {\n}\n"),
	}))

	report, err := Archives(context.Background(), oldPath, newPath, Options{Workers: 2})
	require.NoError(t, err)

	require.Len(t, report.Files, 4)
	assert.Equal(t, "foo/Bar.java", report.Files[0].Path)
	assert.Equal(t, Modified, report.Files[0].Status)
	assert.Equal(t, 1, report.Files[0].Inserted)
	assert.Equal(t, Unchanged, report.Files[1].Status)
	assert.Equal(t, Removed, report.Files[2].Status)
	assert.Equal(t, 2, report.Files[2].Deleted)
	assert.Equal(t, Added, report.Files[3].Status)
	assert.Equal(t, 2, report.Files[3].Inserted)

	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Modified)
	assert.Equal(t, 1, report.Unchanged)
	assert.Len(t, report.Changed(), 3)
}

func TestArchives_MissingInput(t *testing.T) {
	t.Parallel()

	_, err := Archives(context.Background(), filepath.Join(t.TempDir(), "nope.jar"), "also-missing.jar", Options{})
	require.Error(t, err)
}

func TestCompare_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compare(ctx, map[string][]byte{"a": []byte("x")}, map[string][]byte{"a": []byte("y")}, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompare_Binary(t *testing.T) {
	t.Parallel()

	oldFiles := map[string][]byte{
		"a.bin":    {0, 1, 2},
		"same.bin": {0, 9},
		"gone.bin": {0},
	}
	newFiles := map[string][]byte{
		"a.bin":    {0, 1, 3},
		"same.bin": {0, 9},
		"new.bin":  {7, 0},
	}

	report, err := Compare(context.Background(), oldFiles, newFiles, Options{Patch: true})
	require.NoError(t, err)
	require.Len(t, report.Files, 4)

	got := make(map[string]FileDiff, len(report.Files))
	for _, f := range report.Files {
		assert.True(t, f.Binary, f.Path)
		assert.Zero(t, f.Inserted, f.Path)
		assert.Empty(t, f.Patch, f.Path)
		got[f.Path] = f
	}

	assert.Equal(t, Modified, got["a.bin"].Status)
	assert.Equal(t, Unchanged, got["same.bin"].Status)
	assert.Equal(t, Removed, got["gone.bin"].Status)
	assert.Equal(t, Added, got["new.bin"].Status)
}

func TestIsBinary(t *testing.T) {
	t.Parallel()

	assert.False(t, isBinary(nil))
	assert.False(t, isBinary([]byte("class Bar {}\n")))
	assert.True(t, isBinary([]byte("ab\x00cd")))

	late := make([]byte, binarySniffLength+1)
	for i := range late {
		late[i] = 'x'
	}

	late[binarySniffLength] = 0
	assert.False(t, isBinary(late))
}
