package outline

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
)

const (
	objectClass  = "java/lang/Object"
	initName     = "<init>"
	clinitName   = "<clinit>"
	accNative    = 0x0100
	markerFormat = "/* line %d */"
)

// renderer writes one source file and records where each debug line landed.
type renderer struct {
	opts   settings
	cp     *decompiler.Classpath
	logger *slog.Logger

	b     strings.Builder
	line  int
	lines [][2]int
}

func newRenderer(opts settings, cp *decompiler.Classpath, logger *slog.Logger) *renderer {
	return &renderer{opts: opts, cp: cp, logger: logger}
}

func (r *renderer) emit(depth int, text string) {
	if text != "" {
		r.b.WriteString(strings.Repeat(" ", depth*r.opts.indent))
		r.b.WriteString(text)
	}

	r.b.WriteByte('\n')
	r.line++
}

func (r *renderer) mark(depth, original int) {
	r.emit(depth, fmt.Sprintf(markerFormat, original))
	r.lines = append(r.lines, [2]int{original, r.line})
}

func (r *renderer) render(g *group) ([]byte, [][2]int, error) {
	if r.opts.header {
		r.emit(0, "// Generated by srcforge outline from "+classfile.EntryPath(g.top))
	}

	if pkg := classfile.PackageOf(g.top); pkg != "" {
		r.emit(0, "package "+strings.ReplaceAll(pkg, "/", ".")+";")
		r.emit(0, "")
	}

	outer := g.outer
	if outer == nil {
		r.emit(0, "// outer class not present in input")

		outer = &classfile.Class{Name: g.top, AccessFlags: classfile.AccSuper}
	}

	err := r.class(0, outer, g.nested)
	if err != nil {
		return nil, nil, err
	}

	return []byte(r.b.String()), r.lines, nil
}

func (r *renderer) class(depth int, c *classfile.Class, nested []*classfile.Class) error {
	r.emit(depth, classHeader(c, depth > 0)+" {")

	for _, name := range r.unresolved(c) {
		r.emit(depth+1, "// unresolved type: "+typeName(name))
		r.logger.Debug("outline: unresolved type", "unit", c.Name, "type", name)
	}

	overrides := r.inherited(c)
	first := true

	for _, m := range c.Methods {
		if !first {
			r.emit(0, "")
		}

		first = false

		err := r.method(depth+1, c, m, overrides)
		if err != nil {
			return err
		}
	}

	for _, n := range nested {
		if !first {
			r.emit(0, "")
		}

		first = false

		err := r.class(depth+1, n, nil)
		if err != nil {
			return err
		}
	}

	r.emit(depth, "}")

	return nil
}

func (r *renderer) method(depth int, c *classfile.Class, m classfile.Method, overrides map[string]bool) error {
	params, ret, err := methodSignature(m.Descriptor)
	if err != nil {
		return fmt.Errorf("method %s: %w", m.Name, err)
	}

	if m.AccessFlags&classfile.AccSynthetic != 0 {
		r.emit(depth, "/* synthetic */")
	}

	if overrides[m.Name+m.Descriptor] && m.Name != initName && m.AccessFlags&classfile.AccStatic == 0 {
		r.emit(depth, "@Override")
	}

	var header string

	switch m.Name {
	case clinitName:
		header = "static"
	case initName:
		header = joinWords(methodModifiers(m.AccessFlags), classfile.SimpleName(c.Name)) + paramList(params)
	default:
		header = joinWords(methodModifiers(m.AccessFlags), ret, m.Name) + paramList(params)
	}

	if m.AccessFlags&(classfile.AccAbstract|accNative) != 0 {
		r.emit(depth, header+";")

		return nil
	}

	r.emit(depth, header+" {")

	for _, line := range distinctLines(m) {
		r.mark(depth+1, line)
	}

	r.emit(depth, "}")

	return nil
}

// unresolved lists super types the classpath cannot account for.
func (r *renderer) unresolved(c *classfile.Class) []string {
	var out []string

	for _, name := range superTypes(c) {
		if !r.cp.Has(name) {
			out = append(out, name)
		}
	}

	return out
}

// inherited returns name+descriptor keys of methods declared by classpath
// super types, one level up.
func (r *renderer) inherited(c *classfile.Class) map[string]bool {
	out := make(map[string]bool)

	for _, name := range superTypes(c) {
		parent, err := r.cp.Resolve(name)
		if err != nil {
			continue
		}

		for _, m := range parent.Methods {
			out[m.Name+m.Descriptor] = true
		}
	}

	return out
}

func superTypes(c *classfile.Class) []string {
	var out []string

	if c.SuperName != "" && c.SuperName != objectClass {
		out = append(out, c.SuperName)
	}

	return append(out, c.Interfaces...)
}

func distinctLines(m classfile.Method) []int {
	lines := make([]int, 0, len(m.Lines))

	for _, ln := range m.Lines {
		if ln.Line > 0 {
			lines = append(lines, int(ln.Line))
		}
	}

	slices.Sort(lines)

	return slices.Compact(lines)
}

func classHeader(c *classfile.Class, nested bool) string {
	var words []string

	if c.AccessFlags&classfile.AccPublic != 0 {
		words = append(words, "public")
	}

	if nested {
		words = append(words, "static")
	}

	kind := "class"

	switch {
	case c.AccessFlags&classfile.AccAnnotation != 0:
		kind = "@interface"
	case c.IsInterface():
		kind = "interface"
	case c.AccessFlags&classfile.AccEnum != 0:
		kind = "enum"
	case c.AccessFlags&classfile.AccAbstract != 0:
		words = append(words, "abstract")
	case c.AccessFlags&classfile.AccFinal != 0:
		words = append(words, "final")
	}

	words = append(words, kind, classfile.SimpleName(c.Name))

	if c.SuperName != "" && c.SuperName != objectClass && !c.IsInterface() && kind != "enum" {
		words = append(words, "extends", typeName(c.SuperName))
	}

	if len(c.Interfaces) > 0 {
		verb := "implements"
		if c.IsInterface() {
			verb = "extends"
		}

		names := make([]string, 0, len(c.Interfaces))
		for _, iface := range c.Interfaces {
			names = append(names, typeName(iface))
		}

		words = append(words, verb, strings.Join(names, ", "))
	}

	return strings.Join(words, " ")
}

func methodModifiers(flags uint16) []string {
	var words []string

	switch {
	case flags&classfile.AccPublic != 0:
		words = append(words, "public")
	case flags&classfile.AccPrivate != 0:
		words = append(words, "private")
	case flags&classfile.AccProtected != 0:
		words = append(words, "protected")
	}

	if flags&classfile.AccStatic != 0 {
		words = append(words, "static")
	}

	if flags&classfile.AccFinal != 0 {
		words = append(words, "final")
	}

	if flags&classfile.AccAbstract != 0 {
		words = append(words, "abstract")
	}

	if flags&accNative != 0 {
		words = append(words, "native")
	}

	return words
}

func joinWords(mods []string, rest ...string) string {
	return strings.Join(append(slices.Clone(mods), rest...), " ")
}

func paramList(params []string) string {
	parts := make([]string, 0, len(params))
	for i, p := range params {
		parts = append(parts, fmt.Sprintf("%s arg%d", p, i))
	}

	return "(" + strings.Join(parts, ", ") + ")"
}
