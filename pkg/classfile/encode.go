package classfile

import (
	"github.com/Sumatoshi-tech/srcforge/pkg/safeconv"
)

// Bytecode used to fill synthesized method bodies.
const (
	opNop    = 0x00
	opReturn = 0xB1
)

// poolBuilder interns constant pool entries in insertion order.
type poolBuilder struct {
	w       writer
	count   uint16
	utf8    map[string]uint16
	classes map[string]uint16
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{
		count:   1,
		utf8:    make(map[string]uint16),
		classes: make(map[string]uint16),
	}
}

func (p *poolBuilder) str(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}

	idx := p.count
	p.count++
	p.utf8[s] = idx

	p.w.u1(tagUtf8)
	p.w.u2(safeconv.MustIntToUint16(len(s)))
	p.w.raw([]byte(s))

	return idx
}

func (p *poolBuilder) class(name string) uint16 {
	if idx, ok := p.classes[name]; ok {
		return idx
	}

	nameIdx := p.str(name)

	idx := p.count
	p.count++
	p.classes[name] = idx

	p.w.u1(tagClass)
	p.w.u2(nameIdx)

	return idx
}

// Encode writes a minimal, structurally valid class file for c: header,
// interfaces, methods with a Code attribute whose LineNumberTable holds the
// method's line records, and an optional SourceFile attribute. Method bodies
// are nop padding followed by return, long enough to cover every StartPC.
// Abstract methods get no Code attribute.
func (c *Class) Encode() []byte {
	pool := newPoolBuilder()

	thisIdx := pool.class(c.Name)

	var superIdx uint16
	if c.SuperName != "" {
		superIdx = pool.class(c.SuperName)
	}

	ifaceIdx := make([]uint16, 0, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		ifaceIdx = append(ifaceIdx, pool.class(iface))
	}

	var body writer

	body.u2(c.AccessFlags)
	body.u2(thisIdx)
	body.u2(superIdx)
	body.u2(safeconv.MustIntToUint16(len(ifaceIdx)))

	for _, idx := range ifaceIdx {
		body.u2(idx)
	}

	// No fields.
	body.u2(0)

	body.u2(safeconv.MustIntToUint16(len(c.Methods)))

	for _, m := range c.Methods {
		encodeMethod(&body, pool, m)
	}

	if c.SourceFile != "" {
		body.u2(1)
		body.u2(pool.str(attrSourceFile))
		body.u4(2)
		body.u2(pool.str(c.SourceFile))
	} else {
		body.u2(0)
	}

	major := c.MajorVersion
	if major == 0 {
		major = DefaultMajorVersion
	}

	var out writer

	out.u4(Magic)
	out.u2(c.MinorVersion)
	out.u2(major)
	out.u2(pool.count)
	out.raw(pool.w.buf)
	out.raw(body.buf)

	return out.buf
}

func encodeMethod(w *writer, pool *poolBuilder, m Method) {
	w.u2(m.AccessFlags)
	w.u2(pool.str(m.Name))
	w.u2(pool.str(m.Descriptor))

	if m.AccessFlags&AccAbstract != 0 {
		w.u2(0)

		return
	}

	w.u2(1)
	w.u2(pool.str(attrCode))

	codeLen := 1
	for _, ln := range m.Lines {
		codeLen = max(codeLen, int(ln.StartPC)+1)
	}

	var code writer

	// max_stack, max_locals.
	code.u2(0)
	code.u2(1)
	code.u4(safeconv.MustIntToUint32(codeLen))

	for range codeLen - 1 {
		code.u1(opNop)
	}

	code.u1(opReturn)

	// Empty exception table.
	code.u2(0)

	if len(m.Lines) == 0 {
		code.u2(0)
	} else {
		const lineEntrySize = 4

		code.u2(1)
		code.u2(pool.str(attrLineNumberTable))
		code.u4(safeconv.MustIntToUint32(2 + lineEntrySize*len(m.Lines)))
		code.u2(safeconv.MustIntToUint16(len(m.Lines)))

		for _, ln := range m.Lines {
			code.u2(ln.StartPC)
			code.u2(ln.Line)
		}
	}

	w.u4(safeconv.MustIntToUint32(code.len()))
	w.raw(code.buf)
}

// Lines builds line records for consecutive StartPCs 0..n-1.
// It is a convenience for synthesizing classes.
func Lines(lines ...uint16) []LineNumber {
	out := make([]LineNumber, 0, len(lines))
	for i, line := range lines {
		out = append(out, LineNumber{Offset: -1, StartPC: safeconv.MustIntToUint16(i), Line: line})
	}

	return out
}
