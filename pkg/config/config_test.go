package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/srcforge/pkg/config"
)

func validConfig() config.Config {
	return config.Config{
		Decompile: config.DecompileConfig{
			Decompiler: "outline",
			Isolation:  "isolated",
			Threads:    4,
			Memory:     "512MiB",
		},
		Logging: config.LoggingConfig{Level: "warn"},
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.MemoryMiB())
}

func TestValidate_ZeroConfig_RequiresDecompiler(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	require.ErrorIs(t, cfg.Validate(), config.ErrEmptyDecompiler)
}

func TestValidate_NegativeWorkerTimeout_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Decompile.WorkerTimeout = -1

	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidWorkerTimeout)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}

	for level, want := range tests {
		cfg := config.Config{Logging: config.LoggingConfig{Level: level}}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
