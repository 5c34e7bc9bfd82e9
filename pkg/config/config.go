package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/srcforge/pkg/units"
)

// Config is the top-level configuration struct for srcforge.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Decompile   DecompileConfig   `mapstructure:"decompile"`
	Incremental IncrementalConfig `mapstructure:"incremental"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// DecompileConfig holds the knobs of a decompilation run.
type DecompileConfig struct {
	Decompiler string            `mapstructure:"decompiler"`
	Isolation  string            `mapstructure:"isolation"`
	Threads    int               `mapstructure:"threads"`
	Memory     string            `mapstructure:"memory"`
	Classpath  []string          `mapstructure:"classpath"`
	Options    map[string]string `mapstructure:"options"`
	// WorkerTimeout bounds one worker pass; zero disables the bound.
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
}

// IncrementalConfig holds snapshot reuse settings.
type IncrementalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

// ProgressConfig holds progress channel settings.
type ProgressConfig struct {
	// Socket disables the local socket channel when false.
	Socket bool `mapstructure:"socket"`
	Bar    bool `mapstructure:"bar"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Accepted enumerations.
var (
	isolationModes = []string{"in-process", "isolated"}
	logLevels      = []string{"debug", "info", "warn", "error"}
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidIsolation indicates an unknown isolation mode.
	ErrInvalidIsolation = errors.New("decompile.isolation must be in-process or isolated")
	// ErrInvalidThreads indicates the thread count is negative.
	ErrInvalidThreads = errors.New("decompile.threads must be non-negative")
	// ErrInvalidMemory indicates an unparsable memory size.
	ErrInvalidMemory = errors.New("decompile.memory must be a size such as 4GB")
	// ErrInvalidWorkerTimeout indicates a negative worker timeout.
	ErrInvalidWorkerTimeout = errors.New("decompile.worker_timeout must be non-negative")
	// ErrEmptyDecompiler indicates no decompiler name was configured.
	ErrEmptyDecompiler = errors.New("decompile.decompiler must not be empty")
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	decompileErr := c.validateDecompile()
	if decompileErr != nil {
		return decompileErr
	}

	if c.Logging.Level != "" && !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return nil
}

func (c *Config) validateDecompile() error {
	d := c.Decompile

	if strings.TrimSpace(d.Decompiler) == "" {
		return ErrEmptyDecompiler
	}

	if d.Isolation != "" && !slices.Contains(isolationModes, d.Isolation) {
		return fmt.Errorf("%w: %q", ErrInvalidIsolation, d.Isolation)
	}

	if d.Threads < 0 {
		return ErrInvalidThreads
	}

	if d.WorkerTimeout < 0 {
		return ErrInvalidWorkerTimeout
	}

	_, err := units.ParseMiB(d.Memory)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMemory, err)
	}

	return nil
}

// MemoryMiB returns the configured worker memory bound in mebibytes, or zero
// when none is set. The config must have passed Validate.
func (c *Config) MemoryMiB() int {
	mib, err := units.ParseMiB(c.Decompile.Memory)
	if err != nil {
		return 0
	}

	return mib
}

// SlogLevel maps the configured level to slog; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
