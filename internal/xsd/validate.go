package xsd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Issue is one schema violation.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	return i.Path + ": " + i.Message
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "document is not schema-valid: " + e.Issues[0].String()
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("document is not schema-valid (%d issues): %s", len(e.Issues), strings.Join(parts, "; "))
}

var builtins = map[string]func(string) error{
	"string":             func(string) error { return nil },
	"normalizedString":   func(string) error { return nil },
	"token":              func(string) error { return nil },
	"anyURI":             func(string) error { return nil },
	"anySimpleType":      func(string) error { return nil },
	"integer":            intRange(nil),
	"int":                intRange(nil),
	"long":               intRange(nil),
	"short":              intRange(nil),
	"nonNegativeInteger": intRange(func(v int64) bool { return v >= 0 }),
	"positiveInteger":    intRange(func(v int64) bool { return v > 0 }),
	"unsignedInt":        intRange(func(v int64) bool { return v >= 0 }),
	"boolean": func(s string) error {
		switch s {
		case "true", "false", "1", "0":
			return nil
		}
		return fmt.Errorf("%q is not a boolean", s)
	},
	"decimal": func(s string) error {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("%q is not a decimal", s)
		}
		return nil
	},
	"dateTime": func(s string) error {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("%q is not a dateTime", s)
		}
		return nil
	},
}

func intRange(ok func(int64) bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%q is not an integer", s)
		}
		if ok != nil && !ok(v) {
			return fmt.Errorf("%d is out of range", v)
		}
		return nil
	}
}

// ignoredAttribute reports namespace declarations and schema-instance hints,
// which are never declared in a schema.
func ignoredAttribute(space, local string) bool {
	return space == "xmlns" || local == "xmlns" ||
		space == "http://www.w3.org/2001/XMLSchema-instance" || space == "xsi"
}

type validator struct {
	schema *Schema
	issues []Issue
}

func (v *validator) add(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks data against the schema. The document element must be a
// global element declaration. It returns a *ValidationError listing every
// violation, or an error if data is not well-formed XML.
func (s *Schema) Validate(data []byte) error {
	root, err := decodeTree(data)
	if err != nil {
		return fmt.Errorf("document is not well-formed: %w", err)
	}
	v := &validator{schema: s}
	decl, ok := s.elements[root.XMLName.Local]
	if !ok {
		v.add("/"+root.XMLName.Local, "no global declaration for root element")
	} else {
		v.element(root, decl, "/"+root.XMLName.Local)
	}
	if len(v.issues) > 0 {
		return &ValidationError{Issues: v.issues}
	}
	return nil
}

func (v *validator) element(n *node, decl *Element, path string) {
	decl = v.schema.element(decl)

	switch {
	case decl.Simple != nil:
		v.simpleContent(n, path)
		v.noAttributes(n, path)
		v.value(strings.TrimSpace(n.Text), decl.Simple, "", path)
	case decl.Complex != nil:
		v.complex(n, decl.Complex, path)
	case decl.Type != "":
		if ct, ok := v.schema.complexTypes[decl.Type]; ok {
			v.complex(n, ct, path)
			return
		}
		v.simpleContent(n, path)
		v.noAttributes(n, path)
		v.value(strings.TrimSpace(n.Text), nil, decl.Type, path)
	}
}

func (v *validator) simpleContent(n *node, path string) {
	if len(n.Children) > 0 {
		v.add(path, "unexpected child element %s in simple content", n.Children[0].XMLName.Local)
	}
}

func (v *validator) noAttributes(n *node, path string) {
	for _, a := range n.Attrs {
		if !ignoredAttribute(a.Name.Space, a.Name.Local) {
			v.add(path, "undeclared attribute %s", a.Name.Local)
		}
	}
}

// value checks s against an inline simple type or a named type.
func (v *validator) value(s string, st *SimpleType, typeName, path string) {
	for depth := 0; depth < 16; depth++ {
		if st == nil {
			if typeName == "" {
				return
			}
			if check, ok := builtins[localName(typeName)]; ok && strings.Contains(typeName, ":") {
				if err := check(s); err != nil {
					v.add(path, "%v", err)
				}
				return
			}
			named, ok := v.schema.simpleTypes[typeName]
			if !ok {
				v.add(path, "unknown simple type %s", typeName)
				return
			}
			st = named
		}
		v.facets(s, st, path)
		typeName, st = st.Base, nil
	}
}

func (v *validator) facets(s string, st *SimpleType, path string) {
	if len(st.compiled) > 0 {
		matched := false
		for _, re := range st.compiled {
			if re.MatchString(s) {
				matched = true
				break
			}
		}
		if !matched {
			v.add(path, "value %q does not match pattern %s", s, strings.Join(st.Patterns, " | "))
		}
	}
	if len(st.Enumerations) > 0 && !slices.Contains(st.Enumerations, s) {
		v.add(path, "value %q is not one of %s", s, strings.Join(st.Enumerations, ", "))
	}
	n := utf8.RuneCountInString(s)
	if n < st.MinLength {
		v.add(path, "value %q is shorter than %d", s, st.MinLength)
	}
	if st.MaxLength >= 0 && n > st.MaxLength {
		v.add(path, "value %q is longer than %d", s, st.MaxLength)
	}
}

func (v *validator) complex(n *node, ct *ComplexType, path string) {
	declared := make(map[string]*Attribute)
	for _, a := range ct.Attributes {
		if a.Ref != "" {
			global, ok := v.schema.attributes[a.Ref]
			if !ok {
				v.add(path, "undeclared attribute ref %s", a.Ref)
				continue
			}
			ref := *global
			ref.Required = a.Required
			a = &ref
		}
		declared[a.Name] = a
	}
	seen := make(map[string]bool)
	for _, attr := range n.Attrs {
		if ignoredAttribute(attr.Name.Space, attr.Name.Local) {
			continue
		}
		a, ok := declared[attr.Name.Local]
		if !ok {
			v.add(path, "undeclared attribute %s", attr.Name.Local)
			continue
		}
		seen[a.Name] = true
		v.value(attr.Value, a.Simple, a.Type, path+"/@"+a.Name)
	}
	for name, a := range declared {
		if a.Required && !seen[name] {
			v.add(path, "missing required attribute %s", name)
		}
	}

	if !ct.Mixed && strings.TrimSpace(n.Text) != "" {
		v.add(path, "unexpected text in element-only content")
	}
	if ct.Model == nil {
		if len(n.Children) > 0 {
			v.add(path, "unexpected child element %s in empty content", n.Children[0].XMLName.Local)
		}
		return
	}

	pos, ok := v.group(n.Children, 0, ct.Model, path)
	if ok && pos < len(n.Children) {
		v.add(path, "unexpected element %s", n.Children[pos].XMLName.Local)
	}
}

// group matches children[pos:] against g, honouring g's own occurrence
// bounds, and reports whether the required occurrences were satisfied.
func (v *validator) group(children []node, pos int, g *Group, path string) (int, bool) {
	count := 0
	for g.MaxOccurs == Unbounded || count < g.MaxOccurs {
		if pos >= len(children) && count >= g.MinOccurs {
			break
		}
		next, matched, ok := v.groupOnce(children, pos, g, path, count < g.MinOccurs)
		if !ok {
			return next, false
		}
		if !matched || next == pos {
			if count < g.MinOccurs && !matched {
				return pos, false
			}
			break
		}
		pos = next
		count++
	}
	return pos, true
}

// groupOnce matches one occurrence of g. matched is false when g could not
// start at pos; required says whether that is an error.
func (v *validator) groupOnce(children []node, pos int, g *Group, path string, required bool) (next int, matched, ok bool) {
	switch g.Kind {
	case Choice:
		for _, p := range g.Particles {
			if v.starts(children, pos, p) {
				n, ok := v.particle(children, pos, p, path)
				return n, true, ok
			}
		}
		for _, p := range g.Particles {
			if v.optional(p) {
				return pos, true, true
			}
		}
		if required {
			v.add(path, "expected one of %s%s", strings.Join(v.names(g), ", "), found(children, pos))
			return pos, false, false
		}
		return pos, false, true

	case All:
		start := pos
		used := make(map[string]bool)
		for pos < len(children) {
			name := children[pos].XMLName.Local
			var hit *Element
			for _, p := range g.Particles {
				if e := v.schema.element(p.Element); e.Name == name {
					hit = p.Element
					break
				}
			}
			if hit == nil {
				break
			}
			if used[name] {
				v.add(path, "element %s appears more than once", name)
				return pos, true, false
			}
			used[name] = true
			v.element(&children[pos], hit, fmt.Sprintf("%s/%s", path, name))
			pos++
		}
		if pos == start && !required {
			return pos, false, true
		}
		ok = true
		for _, p := range g.Particles {
			e := v.schema.element(p.Element)
			if p.Element.MinOccurs > 0 && !used[e.Name] {
				v.add(path, "missing required element %s", e.Name)
				ok = false
			}
		}
		return pos, true, ok

	default:
		start := pos
		for i, p := range g.Particles {
			if i == 0 && !required && !v.starts(children, pos, p) {
				return pos, false, true
			}
			n, ok := v.particle(children, pos, p, path)
			if !ok {
				return n, pos != start, false
			}
			pos = n
		}
		return pos, true, true
	}
}

// particle matches p, repeated within its bounds, at children[pos:].
func (v *validator) particle(children []node, pos int, p Particle, path string) (int, bool) {
	if p.Group != nil {
		return v.group(children, pos, p.Group, path)
	}
	decl := p.Element
	e := v.schema.element(decl)
	count := 0
	for (decl.MaxOccurs == Unbounded || count < decl.MaxOccurs) && pos < len(children) &&
		children[pos].XMLName.Local == e.Name {
		v.element(&children[pos], e, fmt.Sprintf("%s/%s[%d]", path, e.Name, count))
		pos++
		count++
	}
	if count < decl.MinOccurs {
		v.add(path, "expected element %s%s", e.Name, found(children, pos))
		return pos, false
	}
	return pos, true
}

func (v *validator) starts(children []node, pos int, p Particle) bool {
	if pos >= len(children) {
		return false
	}
	if p.Element != nil {
		return children[pos].XMLName.Local == v.schema.element(p.Element).Name
	}
	for _, sub := range p.Group.Particles {
		if v.starts(children, pos, sub) {
			return true
		}
		if p.Group.Kind == Sequence && !v.optional(sub) {
			return false
		}
	}
	return false
}

func (v *validator) optional(p Particle) bool {
	if p.Element != nil {
		return p.Element.MinOccurs == 0
	}
	return p.Group.MinOccurs == 0
}

func (v *validator) names(g *Group) []string {
	var out []string
	for _, p := range g.Particles {
		if p.Element != nil {
			out = append(out, v.schema.element(p.Element).Name)
		} else {
			out = append(out, "("+strings.Join(v.names(p.Group), ", ")+")")
		}
	}
	return out
}

func found(children []node, pos int) string {
	if pos < len(children) {
		return ", found " + children[pos].XMLName.Local
	}
	return ", found end of content"
}
