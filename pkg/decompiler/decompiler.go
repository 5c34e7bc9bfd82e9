// Package decompiler defines the pluggable decompiler contract and the
// explicit registry decompilers are resolved from by name.
package decompiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
)

// Sentinel errors.
var (
	ErrUnknownDecompiler = errors.New("unknown decompiler")
	ErrDuplicateName     = errors.New("decompiler already registered")
)

// ProgressChannel is the channel name decompilers report unit progress on.
const ProgressChannel = "decompile"

// Unit is one compiled class handed to a decompiler.
type Unit struct {
	// Name is the internal class name.
	Name string
	Data []byte
}

// Job is the input of one decompilation pass.
type Job struct {
	// Units holds every compiled unit of the input, nested units included.
	Units     []Unit
	Classpath *Classpath
	Options   map[string]string
	// MaxThreads bounds parallelism; zero means one per CPU.
	MaxThreads int
	// Mappings is passed through untouched.
	Mappings string
	Reporter progress.Reporter
	Logger   *slog.Logger
}

// ResultSaver receives decompiled sources. Implementations must be safe for
// concurrent use.
type ResultSaver interface {
	// SaveSource stores the source of one top-level unit together with its
	// (original line, generated line) pairs.
	SaveSource(unit string, source []byte, lines [][2]int) error
}

// Decompiler turns compiled units into source.
type Decompiler interface {
	Name() string
	Decompile(ctx context.Context, job Job, saver ResultSaver) error
}

// Factory constructs a fresh decompiler.
type Factory func() Decompiler

// Registry maps names to decompiler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	r.factories[name] = factory

	return nil
}

// MustRegister is Register that panics on duplicates.
func (r *Registry) MustRegister(name string, factory Factory) {
	err := r.Register(name, factory)
	if err != nil {
		panic(err)
	}
}

// New constructs the named decompiler.
func (r *Registry) New(name string) (Decompiler, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDecompiler, name, strings.Join(r.Names(), ", "))
	}

	return factory(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

// Fingerprint identifies a decompiler configuration: its name followed by the
// options in key order. Output produced under one fingerprint is only reused
// under the same fingerprint.
func Fingerprint(name string, options map[string]string) string {
	var b strings.Builder

	b.WriteString(name)

	for _, k := range slices.Sorted(maps.Keys(options)) {
		b.WriteString(";")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(options[k])
	}

	return b.String()
}
