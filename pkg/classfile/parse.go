package classfile

import (
	"fmt"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Attribute names.
const (
	attrCode            = "Code"
	attrLineNumberTable = "LineNumberTable"
	attrSourceFile      = "SourceFile"
)

// constantPool keeps the entries the parser needs to resolve names.
// Modified UTF-8 is kept as raw bytes converted to string, which matches
// standard UTF-8 for every name javac emits outside supplementary planes.
type constantPool struct {
	utf8    map[uint16]string
	classes map[uint16]uint16
}

func (cp *constantPool) str(idx uint16) (string, error) {
	s, ok := cp.utf8[idx]
	if !ok {
		return "", fmt.Errorf("%w: constant %d is not Utf8", ErrMalformed, idx)
	}

	return s, nil
}

func (cp *constantPool) className(idx uint16) (string, error) {
	nameIdx, ok := cp.classes[idx]
	if !ok {
		return "", fmt.Errorf("%w: constant %d is not a Class", ErrMalformed, idx)
	}

	return cp.str(nameIdx)
}

// Parse decodes a class file. Line records keep the byte offset of their
// line field so callers can patch data in place.
func Parse(data []byte) (*Class, error) {
	r := newReader(data)

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}

	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}

	c := &Class{}

	c.MinorVersion, err = r.u2()
	if err != nil {
		return nil, err
	}

	c.MajorVersion, err = r.u2()
	if err != nil {
		return nil, err
	}

	cp, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}

	err = parseHeader(r, cp, c)
	if err != nil {
		return nil, err
	}

	// Fields carry no line information; skip them.
	err = skipMembers(r)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}

	err = parseMethods(r, cp, c)
	if err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}

	err = parseClassAttributes(r, cp, c)
	if err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}

	return c, nil
}

func parseConstantPool(r *reader) (*constantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}

	cp := &constantPool{
		utf8:    make(map[uint16]string),
		classes: make(map[uint16]uint16),
	}

	for idx := uint16(1); idx < count; idx++ {
		tag, tagErr := r.u1()
		if tagErr != nil {
			return nil, tagErr
		}

		switch tag {
		case tagUtf8:
			n, lenErr := r.u2()
			if lenErr != nil {
				return nil, lenErr
			}

			b, readErr := r.bytes(int(n))
			if readErr != nil {
				return nil, readErr
			}

			cp.utf8[idx] = string(b)
		case tagClass:
			nameIdx, readErr := r.u2()
			if readErr != nil {
				return nil, readErr
			}

			cp.classes[idx] = nameIdx
		case tagString, tagMethodType, tagModule, tagPackage:
			err = r.skip(2)
		case tagMethodHandle:
			err = r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			err = r.skip(4)
		case tagLong, tagDouble:
			err = r.skip(8)
			// Eight-byte constants occupy two pool slots.
			idx++
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformed, tag, idx)
		}

		if err != nil {
			return nil, err
		}
	}

	return cp, nil
}

func parseHeader(r *reader, cp *constantPool, c *Class) error {
	var err error

	c.AccessFlags, err = r.u2()
	if err != nil {
		return err
	}

	thisIdx, err := r.u2()
	if err != nil {
		return err
	}

	c.Name, err = cp.className(thisIdx)
	if err != nil {
		return fmt.Errorf("this_class: %w", err)
	}

	superIdx, err := r.u2()
	if err != nil {
		return err
	}

	// java/lang/Object and module-info have no super class.
	if superIdx != 0 {
		c.SuperName, err = cp.className(superIdx)
		if err != nil {
			return fmt.Errorf("super_class: %w", err)
		}
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return err
	}

	for range ifaceCount {
		ifaceIdx, readErr := r.u2()
		if readErr != nil {
			return readErr
		}

		name, nameErr := cp.className(ifaceIdx)
		if nameErr != nil {
			return fmt.Errorf("interfaces: %w", nameErr)
		}

		c.Interfaces = append(c.Interfaces, name)
	}

	return nil
}

func skipMembers(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}

	for range count {
		// access_flags, name_index, descriptor_index.
		err = r.skip(6)
		if err != nil {
			return err
		}

		err = skipAttributes(r)
		if err != nil {
			return err
		}
	}

	return nil
}

func skipAttributes(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}

	for range count {
		err = r.skip(2)
		if err != nil {
			return err
		}

		length, lenErr := r.u4()
		if lenErr != nil {
			return lenErr
		}

		err = r.skip(int(length))
		if err != nil {
			return err
		}
	}

	return nil
}

func parseMethods(r *reader, cp *constantPool, c *Class) error {
	count, err := r.u2()
	if err != nil {
		return err
	}

	c.Methods = make([]Method, 0, count)

	for range count {
		m, methodErr := parseMethod(r, cp)
		if methodErr != nil {
			return methodErr
		}

		c.Methods = append(c.Methods, m)
	}

	return nil
}

func parseMethod(r *reader, cp *constantPool) (Method, error) {
	var m Method

	var err error

	m.AccessFlags, err = r.u2()
	if err != nil {
		return m, err
	}

	nameIdx, err := r.u2()
	if err != nil {
		return m, err
	}

	descIdx, err := r.u2()
	if err != nil {
		return m, err
	}

	m.Name, err = cp.str(nameIdx)
	if err != nil {
		return m, err
	}

	m.Descriptor, err = cp.str(descIdx)
	if err != nil {
		return m, err
	}

	attrCount, err := r.u2()
	if err != nil {
		return m, err
	}

	for range attrCount {
		name, body, attrErr := readAttribute(r, cp)
		if attrErr != nil {
			return m, attrErr
		}

		if name != attrCode {
			continue
		}

		lines, codeErr := parseCode(body, cp)
		if codeErr != nil {
			return m, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, codeErr)
		}

		m.Lines = append(m.Lines, lines...)
	}

	return m, nil
}

// readAttribute returns the attribute name and a sub-reader positioned over
// its body. The sub-reader shares the parent's buffer so offsets stay absolute.
func readAttribute(r *reader, cp *constantPool) (string, *reader, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return "", nil, err
	}

	length, err := r.u4()
	if err != nil {
		return "", nil, err
	}

	start := r.position()

	err = r.skip(int(length))
	if err != nil {
		return "", nil, err
	}

	name, err := cp.str(nameIdx)
	if err != nil {
		return "", nil, err
	}

	body := &reader{data: r.data[:start+int(length)], pos: start}

	return name, body, nil
}

func parseCode(r *reader, cp *constantPool) ([]LineNumber, error) {
	// max_stack, max_locals.
	err := r.skip(4)
	if err != nil {
		return nil, err
	}

	codeLen, err := r.u4()
	if err != nil {
		return nil, err
	}

	err = r.skip(int(codeLen))
	if err != nil {
		return nil, err
	}

	excCount, err := r.u2()
	if err != nil {
		return nil, err
	}

	const exceptionEntrySize = 8

	err = r.skip(int(excCount) * exceptionEntrySize)
	if err != nil {
		return nil, err
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}

	var lines []LineNumber

	for range attrCount {
		name, body, attrErr := readAttribute(r, cp)
		if attrErr != nil {
			return nil, attrErr
		}

		if name != attrLineNumberTable {
			continue
		}

		table, tableErr := parseLineNumberTable(body)
		if tableErr != nil {
			return nil, tableErr
		}

		lines = append(lines, table...)
	}

	return lines, nil
}

func parseLineNumberTable(r *reader) ([]LineNumber, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}

	lines := make([]LineNumber, 0, count)

	for range count {
		startPC, pcErr := r.u2()
		if pcErr != nil {
			return nil, pcErr
		}

		offset := r.position()

		line, lineErr := r.u2()
		if lineErr != nil {
			return nil, lineErr
		}

		lines = append(lines, LineNumber{Offset: offset, StartPC: startPC, Line: line})
	}

	return lines, nil
}

func parseClassAttributes(r *reader, cp *constantPool, c *Class) error {
	count, err := r.u2()
	if err != nil {
		return err
	}

	for range count {
		name, body, attrErr := readAttribute(r, cp)
		if attrErr != nil {
			return attrErr
		}

		if name != attrSourceFile {
			continue
		}

		idx, readErr := body.u2()
		if readErr != nil {
			return readErr
		}

		c.SourceFile, err = cp.str(idx)
		if err != nil {
			return err
		}
	}

	return nil
}
