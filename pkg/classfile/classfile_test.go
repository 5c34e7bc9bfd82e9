package classfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleClass() *Class {
	return &Class{
		Name:        "foo/Bar",
		SuperName:   "java/lang/Object",
		SourceFile:  "Bar.java",
		Interfaces:  []string{"java/lang/Runnable"},
		AccessFlags: AccPublic | AccSuper,
		Methods: []Method{
			{Name: "<init>", Descriptor: "()V", AccessFlags: AccPublic, Lines: Lines(1)},
			{Name: "run", Descriptor: "()V", AccessFlags: AccPublic, Lines: Lines(2, 3, 3)},
			{Name: "shape", Descriptor: "()I", AccessFlags: AccPublic | AccAbstract},
		},
	}
}

func TestEncodeParse_Header(t *testing.T) {
	t.Parallel()

	parsed, err := Parse(sampleClass().Encode())
	require.NoError(t, err)

	assert.Equal(t, "foo/Bar", parsed.Name)
	assert.Equal(t, "java/lang/Object", parsed.SuperName)
	assert.Equal(t, "Bar.java", parsed.SourceFile)
	assert.Equal(t, []string{"java/lang/Runnable"}, parsed.Interfaces)
	assert.Equal(t, DefaultMajorVersion, parsed.MajorVersion)
	assert.Equal(t, AccPublic|AccSuper, parsed.AccessFlags)
	assert.False(t, parsed.IsInterface())
}

func TestEncodeParse_Lines(t *testing.T) {
	t.Parallel()

	data := sampleClass().Encode()

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.Methods, 3)

	assert.Equal(t, "run", parsed.Methods[1].Name)
	assert.Equal(t, "()V", parsed.Methods[1].Descriptor)
	assert.Empty(t, parsed.Methods[2].Lines)
	assert.Equal(t, 4, parsed.LineCount())
	assert.Equal(t, 3, parsed.MaxLine())

	want := []uint16{2, 3, 3}
	for i, ln := range parsed.Methods[1].Lines {
		assert.Equal(t, want[i], ln.Line)
		assert.Equal(t, uint16(i), ln.StartPC)
		// Offsets point at the big-endian line field in the original bytes.
		assert.Equal(t, want[i], binary.BigEndian.Uint16(data[ln.Offset:]))
	}
}

func TestParse_BadMagic(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte{0xCA, 0xFE, 0xD0, 0x0D, 0, 0, 0, 52})
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestParse_Truncated(t *testing.T) {
	t.Parallel()

	data := sampleClass().Encode()

	for _, cut := range []int{3, 10, len(data) / 2, len(data) - 1} {
		_, err := Parse(data[:cut])
		require.ErrorIs(t, err, ErrMalformed, "cut at %d", cut)
	}
}

func TestParse_WideConstants(t *testing.T) {
	t.Parallel()

	// Hand-built pool: #1 Long (takes #1 and #2), #3 Utf8 "A", #4 Class #3.
	var w writer

	w.u4(Magic)
	w.u2(0)
	w.u2(DefaultMajorVersion)
	w.u2(5)
	w.u1(tagLong)
	w.u4(0)
	w.u4(42)
	w.u1(tagUtf8)
	w.u2(1)
	w.raw([]byte("A"))
	w.u1(tagClass)
	w.u2(3)
	// access, this, super, interfaces, fields, methods, attributes.
	w.u2(AccPublic)
	w.u2(4)
	w.u2(0)
	w.u2(0)
	w.u2(0)
	w.u2(0)
	w.u2(0)

	parsed, err := Parse(w.buf)
	require.NoError(t, err)
	assert.Equal(t, "A", parsed.Name)
	assert.Empty(t, parsed.SuperName)
}

func TestNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		topLevel string
		nested   bool
		source   string
	}{
		{"foo/Bar", "foo/Bar", false, "foo/Bar.java"},
		{"foo/Bar$Inner", "foo/Bar", true, "foo/Bar.java"},
		{"foo/Bar$1$2", "foo/Bar", true, "foo/Bar.java"},
		{"Top", "Top", false, "Top.java"},
		{"$Weird", "$Weird", false, "$Weird.java"},
		{"foo/$Proxy0", "foo/$Proxy0", false, "foo/$Proxy0.java"},
		{"foo/$Proxy0$1", "foo/$Proxy0", true, "foo/$Proxy0.java"},
		{"a$b/C", "a$b/C", false, "a$b/C.java"},
		{"a$b/C$D", "a$b/C", true, "a$b/C.java"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.topLevel, TopLevel(tt.name))
			assert.Equal(t, tt.nested, IsNested(tt.name))
			assert.Equal(t, tt.source, SourcePath(tt.name))
		})
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()

	name, ok := UnitName("foo/Bar$1.class")
	assert.True(t, ok)
	assert.Equal(t, "foo/Bar$1", name)

	_, ok = UnitName("META-INF/MANIFEST.MF")
	assert.False(t, ok)

	_, ok = UnitName(".class")
	assert.False(t, ok)

	assert.Equal(t, "foo/Bar.class", EntryPath("foo/Bar"))
	assert.Equal(t, "foo", PackageOf("foo/Bar"))
	assert.Empty(t, PackageOf("Bar"))
	assert.Equal(t, "Bar$Inner", SimpleName("foo/Bar$Inner"))
	assert.Equal(t, "foo.Bar", JavaName("foo/Bar"))

	unit, ok := SourceUnit("foo/Bar.java")
	assert.True(t, ok)
	assert.Equal(t, "foo/Bar", unit)
}
