// Package snapshot retains what an incremental run needs from the previous
// run of the same input: generated sources per top-level unit, the rewritten
// bytes of every unit and the hash of every unit's input bytes.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/srcforge/pkg/persist"
)

// MetadataVersion is the current snapshot metadata format version.
const MetadataVersion = 1

// Sentinel errors for snapshot validation.
var (
	ErrNoSnapshot          = errors.New("no snapshot")
	ErrFingerprintMismatch = errors.New("decompiler fingerprint mismatch")
	ErrVersionMismatch     = errors.New("snapshot version mismatch")
)

const (
	dirPerm      = 0o750
	metadataName = "snapshot"
	dataName     = "units"
)

// Metadata describes a stored snapshot.
type Metadata struct {
	Version     int    `json:"version"`
	InputPath   string `json:"input_path"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
	Units       int    `json:"units"`
}

// Snapshot is the retained output of one run.
type Snapshot struct {
	// Sources holds generated source by top-level unit name.
	Sources map[string][]byte
	// Rewritten holds the final runtime bytes by unit name, nested units included.
	Rewritten map[string][]byte
	// InputHashes holds HashBytes of each unit's decompiled input.
	InputHashes map[string]string
}

// New returns an empty snapshot.
func New() *Snapshot {
	return &Snapshot{
		Sources:     make(map[string][]byte),
		Rewritten:   make(map[string][]byte),
		InputHashes: make(map[string]string),
	}
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)

	return hex.EncodeToString(h[:])
}

// DefaultDir returns the default snapshot directory (~/.srcforge/snapshots).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".srcforge", "snapshots")
}

// KeyFor derives the snapshot key of an input archive from its absolute path.
func KeyFor(inputPath string) string {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		abs = inputPath
	}

	h := sha256.Sum256([]byte(abs))

	return hex.EncodeToString(h[:8])
}

// Manager stores and loads the snapshot of one input.
type Manager struct {
	BaseDir string
	Key     string

	meta *persist.Persister[Metadata]
	data *persist.Persister[Snapshot]
}

// NewManager creates a snapshot manager for key under baseDir.
func NewManager(baseDir, key string) *Manager {
	return &Manager{
		BaseDir: baseDir,
		Key:     key,
		meta:    persist.NewPersister[Metadata](metadataName, persist.NewJSONCodec()),
		data:    persist.NewPersister[Snapshot](dataName, persist.NewLZ4Codec(persist.NewGobCodec())),
	}
}

// Dir returns the directory holding this key's snapshot.
func (m *Manager) Dir() string {
	return filepath.Join(m.BaseDir, m.Key)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return m.meta.Path(m.Dir())
}

// DataPath returns the path to the compressed snapshot data.
func (m *Manager) DataPath() string {
	return m.data.Path(m.Dir())
}

// Exists reports whether a complete snapshot is stored.
func (m *Manager) Exists() bool {
	return m.meta.Exists(m.Dir()) && m.data.Exists(m.Dir())
}

// Clear removes the snapshot. A missing snapshot is not an error.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.Dir())
	if err != nil {
		return fmt.Errorf("remove snapshot dir: %w", err)
	}

	return nil
}

// Save stores snap. Metadata is written last, so an interrupted save leaves
// no snapshot that Exists reports.
func (m *Manager) Save(snap *Snapshot, meta Metadata) error {
	dir := m.Dir()

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	removeErr := m.meta.Remove(dir)
	if removeErr != nil {
		return fmt.Errorf("invalidate snapshot: %w", removeErr)
	}

	saveErr := m.data.Save(dir, snap)
	if saveErr != nil {
		return fmt.Errorf("save snapshot data: %w", saveErr)
	}

	meta.Version = MetadataVersion
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if meta.Units == 0 {
		meta.Units = len(snap.InputHashes)
	}

	metaErr := m.meta.Save(dir, &meta)
	if metaErr != nil {
		return fmt.Errorf("save snapshot metadata: %w", metaErr)
	}

	return nil
}

// LoadMetadata loads the snapshot metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	if !m.meta.Exists(m.Dir()) {
		return nil, ErrNoSnapshot
	}

	meta, err := m.meta.Load(m.Dir())
	if err != nil {
		return nil, fmt.Errorf("load snapshot metadata: %w", err)
	}

	return meta, nil
}

// Load restores the stored snapshot.
func (m *Manager) Load() (*Snapshot, error) {
	if !m.Exists() {
		return nil, ErrNoSnapshot
	}

	snap, err := m.data.Load(m.Dir())
	if err != nil {
		return nil, fmt.Errorf("load snapshot data: %w", err)
	}

	if snap.Sources == nil {
		snap.Sources = make(map[string][]byte)
	}

	if snap.Rewritten == nil {
		snap.Rewritten = make(map[string][]byte)
	}

	if snap.InputHashes == nil {
		snap.InputHashes = make(map[string]string)
	}

	return snap, nil
}

// Validate checks that the stored snapshot was produced by a decompiler
// with the given fingerprint.
func (m *Manager) Validate(fingerprint string) error {
	meta, err := m.LoadMetadata()
	if err != nil {
		return err
	}

	if meta.Version != MetadataVersion {
		return fmt.Errorf("%w: snapshot has %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
	}

	if meta.Fingerprint != fingerprint {
		return fmt.Errorf("%w: snapshot has %q, got %q", ErrFingerprintMismatch, meta.Fingerprint, fingerprint)
	}

	return nil
}
