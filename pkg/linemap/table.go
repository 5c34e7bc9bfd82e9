// Package linemap holds the sparse line correction table produced by a
// decompilation pass and the rule that projects compiled debug lines onto it.
package linemap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNegativeLine is returned when an entry holds a negative line value.
var ErrNegativeLine = errors.New("negative line number")

// Entry is the line correction data for one top-level unit.
type Entry struct {
	// Lines maps original debug lines to lines of the generated source.
	Lines map[int]int
	// MaxSourceLine is the highest original line the table covers.
	MaxSourceLine int
	// MaxDestLine is the fallback target for lines beyond the table.
	MaxDestLine int
}

// NewEntry builds an entry from (original, generated) line pairs, deriving
// both maxima. A repeated original line keeps its last mapping, as Read does.
func NewEntry(pairs [][2]int) *Entry {
	e := &Entry{Lines: make(map[int]int, len(pairs))}

	for _, p := range pairs {
		e.MaxSourceLine = max(e.MaxSourceLine, p[0])
		e.MaxDestLine = max(e.MaxDestLine, p[1])
		e.Lines[p[0]] = p[1]
	}

	return e
}

// Diverges reports whether any mapped line differs from its original.
func (e *Entry) Diverges() bool {
	for src, dst := range e.Lines {
		if src != dst {
			return true
		}
	}

	return false
}

// Validate checks that all keys, values and maxima are non-negative.
func (e *Entry) Validate() error {
	if e.MaxSourceLine < 0 || e.MaxDestLine < 0 {
		return fmt.Errorf("%w: max source %d, max dest %d", ErrNegativeLine, e.MaxSourceLine, e.MaxDestLine)
	}

	for src, dst := range e.Lines {
		if src < 0 || dst < 0 {
			return fmt.Errorf("%w: %d -> %d", ErrNegativeLine, src, dst)
		}
	}

	return nil
}

// Remap projects an original debug line onto the generated source.
//
// Lines at or below zero are sentinels and stay as they are. Lines at or
// past MaxSourceLine collapse onto MaxDestLine. Anything else scans forward
// from the line itself up to MaxSourceLine and takes the first mapped key;
// when the scan finds nothing the result is MaxDestLine.
func (e *Entry) Remap(line int) int {
	if line <= 0 {
		return line
	}

	if line >= e.MaxSourceLine {
		return e.MaxDestLine
	}

	for probe := line; probe <= e.MaxSourceLine; probe++ {
		if mapped, ok := e.Lines[probe]; ok {
			return mapped
		}
	}

	return e.MaxDestLine
}

// Pairs returns the (original, generated) records in original line order.
func (e *Entry) Pairs() [][2]int {
	out := make([][2]int, 0, len(e.Lines))
	for _, src := range slices.Sorted(maps.Keys(e.Lines)) {
		out = append(out, [2]int{src, e.Lines[src]})
	}

	return out
}

// Table maps unit names to their entries.
type Table map[string]*Entry

// Units returns the unit names in sorted order.
func (t Table) Units() []string {
	return slices.Sorted(maps.Keys(t))
}

// Validate checks every entry.
func (t Table) Validate() error {
	for _, unit := range t.Units() {
		err := t[unit].Validate()
		if err != nil {
			return fmt.Errorf("unit %s: %w", unit, err)
		}
	}

	return nil
}
