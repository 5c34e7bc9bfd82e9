package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/srcforge/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".srcforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultDecompiler, cfg.Decompile.Decompiler)
	assert.Equal(t, config.DefaultIsolation, cfg.Decompile.Isolation)
	assert.Equal(t, config.DefaultThreads, cfg.Decompile.Threads)
	assert.Equal(t, time.Duration(0), cfg.Decompile.WorkerTimeout)
	assert.Empty(t, cfg.Decompile.Classpath)
	assert.Equal(t, config.DefaultIncrementalEnabled, cfg.Incremental.Enabled)
	assert.Equal(t, config.DefaultProgressSocket, cfg.Progress.Socket)
	assert.Equal(t, config.DefaultProgressBar, cfg.Progress.Bar)
	assert.Equal(t, config.DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, config.DefaultMetricsTextfile, cfg.Metrics.Textfile)
	assert.Equal(t, 0, cfg.MemoryMiB())
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	content := `decompile:
  decompiler: outline
  isolation: isolated
  threads: 8
  memory: 4GiB
  worker_timeout: 90s
  classpath:
    - libs/a.jar
    - libs/b.jar
  options:
    indent: "2"
incremental:
  enabled: true
  snapshot_dir: /tmp/snaps
progress:
  socket: false
  bar: false
logging:
  level: debug
  json: true
metrics:
  textfile: out/srcforge.prom
`

	cfg, err := config.LoadConfig(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, "isolated", cfg.Decompile.Isolation)
	assert.Equal(t, 8, cfg.Decompile.Threads)
	assert.Equal(t, 4096, cfg.MemoryMiB())
	assert.Equal(t, 90*time.Second, cfg.Decompile.WorkerTimeout)
	assert.Equal(t, []string{"libs/a.jar", "libs/b.jar"}, cfg.Decompile.Classpath)
	assert.Equal(t, map[string]string{"indent": "2"}, cfg.Decompile.Options)
	assert.True(t, cfg.Incremental.Enabled)
	assert.Equal(t, "/tmp/snaps", cfg.Incremental.SnapshotDir)
	assert.False(t, cfg.Progress.Socket)
	assert.False(t, cfg.Progress.Bar)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "out/srcforge.prom", cfg.Metrics.Textfile)
}

func TestLoadConfig_PartialConfig_MergesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "decompile:\n  threads: 3\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Decompile.Threads)
	assert.Equal(t, config.DefaultDecompiler, cfg.Decompile.Decompiler)
	assert.Equal(t, config.DefaultProgressSocket, cfg.Progress.Socket)
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "decompile:\n  threads: [invalid yaml\n"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidValues_ReturnsError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "isolation", content: "decompile:\n  isolation: container\n", want: config.ErrInvalidIsolation},
		{name: "threads", content: "decompile:\n  threads: -1\n", want: config.ErrInvalidThreads},
		{name: "memory", content: "decompile:\n  memory: lots\n", want: config.ErrInvalidMemory},
		{name: "decompiler", content: "decompile:\n  decompiler: \"\"\n", want: config.ErrEmptyDecompiler},
		{name: "log level", content: "logging:\n  level: chatty\n", want: config.ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestLoadConfig_UnknownKeys_NoError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "unknown_section:\n  key: value\ndecompile:\n  threads: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Decompile.Threads)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "")

	t.Setenv("SRCFORGE_DECOMPILE_THREADS", "12")
	t.Setenv("SRCFORGE_INCREMENTAL_ENABLED", "true")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Decompile.Threads)
	assert.True(t, cfg.Incremental.Enabled)
}

func TestLoadConfig_ExplicitPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
}
