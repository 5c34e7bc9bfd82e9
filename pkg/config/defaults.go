// Package config provides YAML-based project configuration for srcforge.
package config

// Decompilation defaults.
const (
	DefaultDecompiler    = "outline"
	DefaultIsolation     = "in-process"
	DefaultThreads       = 0
	DefaultMemory        = ""
	DefaultWorkerTimeout = "0s"
)

// Incremental defaults.
const (
	DefaultIncrementalEnabled     = false
	DefaultIncrementalSnapshotDir = ""
)

// Progress defaults.
const (
	DefaultProgressSocket = true
	DefaultProgressBar    = true
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Metrics defaults.
const (
	DefaultMetricsTextfile = ""
)
