// Package classfile reads and writes the parts of JVM class files that the
// decompilation pipeline cares about: the class header, method signatures and
// the debug LineNumberTable attributes of each method's Code attribute.
package classfile

import "errors"

// Magic is the class file signature.
const Magic uint32 = 0xCAFEBABE

// Access flags used by the outline decompiler.
const (
	AccPublic     uint16 = 0x0001
	AccPrivate    uint16 = 0x0002
	AccProtected  uint16 = 0x0004
	AccStatic     uint16 = 0x0008
	AccFinal      uint16 = 0x0010
	AccSuper      uint16 = 0x0020
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// Default version written by Encode (Java 8).
const (
	DefaultMajorVersion uint16 = 52
	DefaultMinorVersion uint16 = 0
)

// Sentinel errors.
var (
	// ErrBadMagic is returned when the data does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("classfile: bad magic")
	// ErrMalformed is returned for truncated or inconsistent class data.
	ErrMalformed = errors.New("classfile: malformed class")
)

// Class is the parsed view of one compiled unit.
type Class struct {
	Name       string
	SuperName  string
	SourceFile string
	Interfaces []string
	Methods    []Method

	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
}

// Method is one method and its debug line records.
type Method struct {
	Name        string
	Descriptor  string
	Lines       []LineNumber
	AccessFlags uint16
}

// LineNumber is one LineNumberTable record.
type LineNumber struct {
	// Offset is the byte offset of the line_number field inside the data the
	// class was parsed from. It is -1 for records built in memory.
	Offset  int
	StartPC uint16
	Line    uint16
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool {
	return c.AccessFlags&AccInterface != 0
}

// LineCount returns the total number of line records across all methods.
func (c *Class) LineCount() int {
	n := 0
	for _, m := range c.Methods {
		n += len(m.Lines)
	}

	return n
}

// MaxLine returns the highest debug line referenced by any method, or 0.
func (c *Class) MaxLine() int {
	maxLine := 0

	for _, m := range c.Methods {
		for _, ln := range m.Lines {
			maxLine = max(maxLine, int(ln.Line))
		}
	}

	return maxLine
}
