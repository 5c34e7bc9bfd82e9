package outline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadDescriptor is returned for malformed method descriptors.
var ErrBadDescriptor = errors.New("malformed descriptor")

var primitives = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// methodSignature splits a descriptor such as "(I[Ljava/lang/String;)V" into
// Java parameter types and the return type.
func methodSignature(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}

	var params []string

	pos := 1

	for pos < len(desc) && desc[pos] != ')' {
		typ, next, err := fieldType(desc, pos)
		if err != nil {
			return nil, "", err
		}

		params = append(params, typ)
		pos = next
	}

	if pos >= len(desc) {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}

	ret, end, err := fieldType(desc, pos+1)
	if err != nil {
		return nil, "", err
	}

	if end != len(desc) {
		return nil, "", fmt.Errorf("%w: trailing data in %q", ErrBadDescriptor, desc)
	}

	return params, ret, nil
}

func fieldType(desc string, pos int) (string, int, error) {
	dims := 0

	for pos < len(desc) && desc[pos] == '[' {
		dims++
		pos++
	}

	if pos >= len(desc) {
		return "", 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}

	var (
		base string
		next int
	)

	switch c := desc[pos]; c {
	case 'L':
		end := strings.IndexByte(desc[pos:], ';')
		if end < 0 {
			return "", 0, fmt.Errorf("%w: unterminated class in %q", ErrBadDescriptor, desc)
		}

		base = typeName(desc[pos+1 : pos+end])
		next = pos + end + 1
	default:
		prim, ok := primitives[c]
		if !ok {
			return "", 0, fmt.Errorf("%w: type %q in %q", ErrBadDescriptor, c, desc)
		}

		base = prim
		next = pos + 1
	}

	return base + strings.Repeat("[]", dims), next, nil
}

// typeName renders an internal class name as Java source would: java.lang
// types by simple name, everything else fully qualified with nested classes
// joined by dots.
func typeName(internal string) string {
	if rest, ok := strings.CutPrefix(internal, "java/lang/"); ok && !strings.Contains(rest, "/") {
		return strings.ReplaceAll(rest, "$", ".")
	}

	return strings.NewReplacer("/", ".", "$", ".").Replace(internal)
}
