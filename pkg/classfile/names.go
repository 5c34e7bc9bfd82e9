package classfile

import "strings"

// Name conventions for compiled units inside an archive.
const (
	// NestedSeparator splits an outer unit name from its nested part.
	NestedSeparator = "$"
	// ClassSuffix is the archive entry extension of compiled units.
	ClassSuffix = ".class"
	// SourceSuffix is the extension of generated source files.
	SourceSuffix = ".java"
)

// TopLevel strips any nested-unit suffix: "foo/Bar$A$1" becomes "foo/Bar".
// Only the simple name is searched, and a separator leading the simple name
// is not a split point.
func TopLevel(name string) string {
	start := strings.LastIndex(name, "/") + 1

	idx := strings.Index(name[start:], NestedSeparator)
	if idx <= 0 {
		return name
	}

	return name[:start+idx]
}

// IsNested reports whether name refers to a nested unit.
func IsNested(name string) bool {
	return TopLevel(name) != name
}

// UnitName converts an archive entry path to a unit name.
// It reports false for entries that are not compiled units.
func UnitName(entryPath string) (string, bool) {
	if !strings.HasSuffix(entryPath, ClassSuffix) || strings.HasSuffix(entryPath, "/") {
		return "", false
	}

	name := strings.TrimSuffix(entryPath, ClassSuffix)
	if name == "" {
		return "", false
	}

	return name, true
}

// EntryPath returns the archive entry path of a unit.
func EntryPath(unit string) string {
	return unit + ClassSuffix
}

// SourcePath returns the source archive path holding unit's source.
// Nested units share the file of their top-level unit.
func SourcePath(unit string) string {
	return TopLevel(unit) + SourceSuffix
}

// SourceUnit is the inverse of SourcePath for top-level units.
func SourceUnit(sourcePath string) (string, bool) {
	if !strings.HasSuffix(sourcePath, SourceSuffix) {
		return "", false
	}

	return strings.TrimSuffix(sourcePath, SourceSuffix), true
}

// PackageOf returns the slash-separated package of a unit, or "".
func PackageOf(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return ""
	}

	return name[:idx]
}

// SimpleName returns the unit name without its package.
func SimpleName(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

// JavaName converts an internal name to its dotted form.
func JavaName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
