package incremental

import (
	"slices"

	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
)

// Class is the incremental classification of a top-level unit.
type Class int

const (
	// Affected units go through the decompile and rewrite pipeline.
	Affected Class = iota
	// Unaffected units reuse the previous run's source and rewritten bytes.
	Unaffected
)

func (c Class) String() string {
	if c == Unaffected {
		return "unaffected"
	}

	return "affected"
}

// Partition classifies every top-level unit of an input archive. Nested
// units follow their top-level unit.
type Partition map[string]Class

// Classify builds the partition of units, given as unit name to input bytes
// hash. A top-level unit is Unaffected only when the previous snapshot holds
// its source, the rewritten bytes and the same input hash for each of its
// units, and isAffected does not report it.
func Classify(hashes map[string]string, prev *snapshot.Snapshot, isAffected func(string) bool) Partition {
	groups := make(map[string][]string)
	for name := range hashes {
		top := classfile.TopLevel(name)
		groups[top] = append(groups[top], name)
	}

	prevGroups := make(map[string]int)

	if prev != nil {
		for name := range prev.InputHashes {
			prevGroups[classfile.TopLevel(name)]++
		}
	}

	p := make(Partition, len(groups))

	for top, names := range groups {
		p[top] = Affected

		if prev == nil || isAffected != nil && isAffected(top) {
			continue
		}

		if _, ok := prev.Sources[top]; !ok || prevGroups[top] != len(names) {
			continue
		}

		if reusable(names, hashes, prev) {
			p[top] = Unaffected
		}
	}

	return p
}

func reusable(names []string, hashes map[string]string, prev *snapshot.Snapshot) bool {
	for _, name := range names {
		if prev.InputHashes[name] != hashes[name] {
			return false
		}

		if _, ok := prev.Rewritten[name]; !ok {
			return false
		}
	}

	return true
}

// Of returns the class of unit, normalized to its top-level name. Units not
// in the partition are Affected.
func (p Partition) Of(unit string) Class {
	c, ok := p[classfile.TopLevel(unit)]
	if !ok {
		return Affected
	}

	return c
}

// Names returns the sorted top-level names with class c.
func (p Partition) Names(c Class) []string {
	var names []string

	for name, got := range p {
		if got == c {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	return names
}

// Count returns how many top-level units have class c.
func (p Partition) Count(c Class) int {
	n := 0

	for _, got := range p {
		if got == c {
			n++
		}
	}

	return n
}
