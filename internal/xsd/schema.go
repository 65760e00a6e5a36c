// Package xsd validates XML documents against the subset of XML Schema used by
// compliance schemas: global elements and attributes, named and anonymous
// complex types built from sequence, all and choice groups, element refs with
// occurrence bounds, required attributes, and simple types restricted by
// pattern, enumeration and length facets.
package xsd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Namespace is the XML Schema namespace.
const Namespace = "http://www.w3.org/2001/XMLSchema"

// Unbounded is the MaxOccurs of a particle declared maxOccurs="unbounded".
const Unbounded = -1

// Schema is a parsed schema document.
type Schema struct {
	elements     map[string]*Element
	attributes   map[string]*Attribute
	simpleTypes  map[string]*SimpleType
	complexTypes map[string]*ComplexType
	order        []string // global element names in document order
}

// Element is an element declaration or reference.
type Element struct {
	Name      string
	Ref       string
	Type      string
	MinOccurs int
	MaxOccurs int
	Simple    *SimpleType
	Complex   *ComplexType
}

// Attribute is an attribute declaration or reference.
type Attribute struct {
	Name     string
	Ref      string
	Type     string
	Required bool
	Simple   *SimpleType
}

// SimpleType is a restriction of a builtin or named simple type.
type SimpleType struct {
	Name         string
	Base         string
	Patterns     []string
	Enumerations []string
	MinLength    int
	MaxLength    int // -1 when unset

	compiled []*regexp.Regexp
}

// GroupKind is the compositor of a model group.
type GroupKind string

// Compositors.
const (
	Sequence GroupKind = "sequence"
	All      GroupKind = "all"
	Choice   GroupKind = "choice"
)

// Group is a model group.
type Group struct {
	Kind      GroupKind
	MinOccurs int
	MaxOccurs int
	Particles []Particle
}

// Particle is one member of a group: an element or a nested group.
type Particle struct {
	Element *Element
	Group   *Group
}

// ComplexType describes element content and attributes.
type ComplexType struct {
	Name       string
	Model      *Group
	Attributes []*Attribute
	Mixed      bool
}

// ParseError reports a schema the package cannot use.
type ParseError struct {
	Construct string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Construct, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// node is a generic XML element tree.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []node     `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) is(local string) bool {
	return n.XMLName.Space == Namespace && n.XMLName.Local == local
}

func decodeTree(data []byte) (*node, error) {
	var root node
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Load reads and parses the schema at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return Parse(data)
}

// Parse parses a schema document.
func Parse(data []byte) (*Schema, error) {
	root, err := decodeTree(data)
	if err != nil {
		return nil, &ParseError{Construct: "document", Err: err}
	}
	if !root.is("schema") {
		return nil, &ParseError{Construct: "document", Err: fmt.Errorf("root is %s, want xs:schema", root.XMLName.Local)}
	}

	s := &Schema{
		elements:     make(map[string]*Element),
		attributes:   make(map[string]*Attribute),
		simpleTypes:  make(map[string]*SimpleType),
		complexTypes: make(map[string]*ComplexType),
	}
	for i := range root.Children {
		c := &root.Children[i]
		switch {
		case c.is("element"):
			e, err := parseElement(c, true)
			if err != nil {
				return nil, err
			}
			s.elements[e.Name] = e
			s.order = append(s.order, e.Name)
		case c.is("attribute"):
			a, err := parseAttribute(c)
			if err != nil {
				return nil, err
			}
			s.attributes[a.Name] = a
		case c.is("simpleType"):
			st, err := parseSimpleType(c)
			if err != nil {
				return nil, err
			}
			s.simpleTypes[st.Name] = st
		case c.is("complexType"):
			ct, err := parseComplexType(c)
			if err != nil {
				return nil, err
			}
			s.complexTypes[ct.Name] = ct
		case c.is("annotation"), c.is("import"), c.is("include"):
		default:
			return nil, &ParseError{Construct: c.XMLName.Local, Err: fmt.Errorf("unsupported top-level construct")}
		}
	}
	if err := s.checkRefs(); err != nil {
		return nil, err
	}
	return s, nil
}

func occurs(n *node) (int, int, error) {
	lo, hi := 1, 1
	if v, ok := n.attr("minOccurs"); ok {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			return 0, 0, fmt.Errorf("bad minOccurs %q", v)
		}
		lo = i
	}
	if v, ok := n.attr("maxOccurs"); ok {
		if v == "unbounded" {
			hi = Unbounded
		} else {
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				return 0, 0, fmt.Errorf("bad maxOccurs %q", v)
			}
			hi = i
		}
	}
	if hi != Unbounded && hi < lo {
		return 0, 0, fmt.Errorf("maxOccurs %d < minOccurs %d", hi, lo)
	}
	return lo, hi, nil
}

func parseElement(n *node, global bool) (*Element, error) {
	e := &Element{}
	e.Name, _ = n.attr("name")
	e.Ref, _ = n.attr("ref")
	e.Type, _ = n.attr("type")
	label := "element " + e.Name + e.Ref

	if e.Name == "" && e.Ref == "" {
		return nil, &ParseError{Construct: "element", Err: fmt.Errorf("needs name or ref")}
	}
	if global && e.Name == "" {
		return nil, &ParseError{Construct: label, Err: fmt.Errorf("global element needs a name")}
	}
	lo, hi, err := occurs(n)
	if err != nil {
		return nil, &ParseError{Construct: label, Err: err}
	}
	e.MinOccurs, e.MaxOccurs = lo, hi

	for i := range n.Children {
		c := &n.Children[i]
		switch {
		case c.is("simpleType"):
			if e.Simple, err = parseSimpleType(c); err != nil {
				return nil, err
			}
		case c.is("complexType"):
			if e.Complex, err = parseComplexType(c); err != nil {
				return nil, err
			}
		case c.is("annotation"):
		default:
			return nil, &ParseError{Construct: label, Err: fmt.Errorf("unsupported child %s", c.XMLName.Local)}
		}
	}
	return e, nil
}

func parseAttribute(n *node) (*Attribute, error) {
	a := &Attribute{}
	a.Name, _ = n.attr("name")
	a.Ref, _ = n.attr("ref")
	a.Type, _ = n.attr("type")
	if use, _ := n.attr("use"); use == "required" {
		a.Required = true
	}
	if a.Name == "" && a.Ref == "" {
		return nil, &ParseError{Construct: "attribute", Err: fmt.Errorf("needs name or ref")}
	}
	for i := range n.Children {
		c := &n.Children[i]
		if c.is("simpleType") {
			st, err := parseSimpleType(c)
			if err != nil {
				return nil, err
			}
			a.Simple = st
		}
	}
	return a, nil
}

func parseSimpleType(n *node) (*SimpleType, error) {
	st := &SimpleType{MaxLength: -1}
	st.Name, _ = n.attr("name")
	label := "simpleType " + st.Name

	var restriction *node
	for i := range n.Children {
		c := &n.Children[i]
		switch {
		case c.is("restriction"):
			restriction = c
		case c.is("annotation"):
		default:
			return nil, &ParseError{Construct: label, Err: fmt.Errorf("unsupported derivation %s", c.XMLName.Local)}
		}
	}
	if restriction == nil {
		return nil, &ParseError{Construct: label, Err: fmt.Errorf("missing restriction")}
	}
	st.Base, _ = restriction.attr("base")

	for i := range restriction.Children {
		c := &restriction.Children[i]
		v, _ := c.attr("value")
		switch {
		case c.is("pattern"):
			re, err := regexp.Compile(`^(?:` + v + `)$`)
			if err != nil {
				return nil, &ParseError{Construct: label, Err: fmt.Errorf("bad pattern %q: %w", v, err)}
			}
			st.Patterns = append(st.Patterns, v)
			st.compiled = append(st.compiled, re)
		case c.is("enumeration"):
			st.Enumerations = append(st.Enumerations, v)
		case c.is("minLength"), c.is("maxLength"), c.is("length"):
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				return nil, &ParseError{Construct: label, Err: fmt.Errorf("bad %s %q", c.XMLName.Local, v)}
			}
			switch c.XMLName.Local {
			case "minLength":
				st.MinLength = i
			case "maxLength":
				st.MaxLength = i
			default:
				st.MinLength, st.MaxLength = i, i
			}
		case c.is("annotation"):
		default:
			return nil, &ParseError{Construct: label, Err: fmt.Errorf("unsupported facet %s", c.XMLName.Local)}
		}
	}
	return st, nil
}

func parseComplexType(n *node) (*ComplexType, error) {
	ct := &ComplexType{}
	ct.Name, _ = n.attr("name")
	if m, _ := n.attr("mixed"); m == "true" {
		ct.Mixed = true
	}
	label := "complexType " + ct.Name

	for i := range n.Children {
		c := &n.Children[i]
		switch {
		case c.is("sequence"), c.is("all"), c.is("choice"):
			if ct.Model != nil {
				return nil, &ParseError{Construct: label, Err: fmt.Errorf("more than one model group")}
			}
			g, err := parseGroup(c)
			if err != nil {
				return nil, err
			}
			ct.Model = g
		case c.is("attribute"):
			a, err := parseAttribute(c)
			if err != nil {
				return nil, err
			}
			ct.Attributes = append(ct.Attributes, a)
		case c.is("annotation"):
		default:
			return nil, &ParseError{Construct: label, Err: fmt.Errorf("unsupported child %s", c.XMLName.Local)}
		}
	}
	return ct, nil
}

func parseGroup(n *node) (*Group, error) {
	g := &Group{Kind: GroupKind(n.XMLName.Local)}
	lo, hi, err := occurs(n)
	if err != nil {
		return nil, &ParseError{Construct: string(g.Kind), Err: err}
	}
	g.MinOccurs, g.MaxOccurs = lo, hi

	for i := range n.Children {
		c := &n.Children[i]
		switch {
		case c.is("element"):
			e, err := parseElement(c, false)
			if err != nil {
				return nil, err
			}
			g.Particles = append(g.Particles, Particle{Element: e})
		case c.is("sequence"), c.is("choice"):
			if g.Kind == All {
				return nil, &ParseError{Construct: "all", Err: fmt.Errorf("may only contain elements")}
			}
			sub, err := parseGroup(c)
			if err != nil {
				return nil, err
			}
			g.Particles = append(g.Particles, Particle{Group: sub})
		case c.is("annotation"):
		default:
			return nil, &ParseError{Construct: string(g.Kind), Err: fmt.Errorf("unsupported child %s", c.XMLName.Local)}
		}
	}
	return g, nil
}

func (s *Schema) checkRefs() error {
	var walk func(g *Group) error
	checkElement := func(e *Element) error {
		if e.Ref != "" {
			if _, ok := s.elements[e.Ref]; !ok {
				return &ParseError{Construct: "element ref " + e.Ref, Err: fmt.Errorf("undeclared")}
			}
		}
		if e.Type != "" && !builtin(e.Type) {
			_, isSimple := s.simpleTypes[e.Type]
			_, isComplex := s.complexTypes[e.Type]
			if !isSimple && !isComplex {
				return &ParseError{Construct: "element " + e.Name, Err: fmt.Errorf("unknown type %s", e.Type)}
			}
		}
		if e.Complex != nil && e.Complex.Model != nil {
			return walk(e.Complex.Model)
		}
		return nil
	}
	walk = func(g *Group) error {
		for _, p := range g.Particles {
			var err error
			if p.Element != nil {
				err = checkElement(p.Element)
			} else {
				err = walk(p.Group)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range s.order {
		if err := checkElement(s.elements[name]); err != nil {
			return err
		}
	}
	for _, ct := range s.complexTypes {
		if ct.Model != nil {
			if err := walk(ct.Model); err != nil {
				return err
			}
		}
	}
	return nil
}

// element resolves a reference to its global declaration.
func (s *Schema) element(e *Element) *Element {
	if e.Ref != "" {
		return s.elements[e.Ref]
	}
	return e
}

// Elements returns the global element names in document order.
func (s *Schema) Elements() []string {
	return append([]string(nil), s.order...)
}

// ChildNames returns the names of the elements in the content model of the
// global element name, in declaration order.
func (s *Schema) ChildNames(name string) ([]string, error) {
	e, ok := s.elements[name]
	if !ok {
		return nil, fmt.Errorf("element %s is not declared", name)
	}
	ct := e.Complex
	if ct == nil && e.Type != "" {
		ct = s.complexTypes[e.Type]
	}
	if ct == nil || ct.Model == nil {
		return nil, fmt.Errorf("element %s has no element content", name)
	}
	var names []string
	var walk func(g *Group)
	walk = func(g *Group) {
		for _, p := range g.Particles {
			if p.Element != nil {
				names = append(names, s.element(p.Element).Name)
			} else {
				walk(p.Group)
			}
		}
	}
	walk(ct.Model)
	return names, nil
}

// GeneralFields returns the fields of the GENERAL block in schema order.
func (s *Schema) GeneralFields() ([]string, error) {
	return s.ChildNames("GENERAL")
}

// Pattern returns the first pattern constraining name, looking at the global
// attribute of that name first and then the global element.
func (s *Schema) Pattern(name string) (string, bool) {
	if a, ok := s.attributes[name]; ok {
		if p, ok := s.firstPattern(a.Simple, a.Type); ok {
			return p, true
		}
	}
	if e, ok := s.elements[name]; ok {
		if p, ok := s.firstPattern(e.Simple, e.Type); ok {
			return p, true
		}
	}
	return "", false
}

func (s *Schema) firstPattern(st *SimpleType, typeName string) (string, bool) {
	for depth := 0; depth < 16; depth++ {
		if st == nil {
			st = s.simpleTypes[typeName]
		}
		if st == nil {
			return "", false
		}
		if len(st.Patterns) > 0 {
			return st.Patterns[0], true
		}
		typeName = st.Base
		st = nil
	}
	return "", false
}

func builtin(t string) bool {
	_, ok := builtins[localName(t)]
	return ok && strings.Contains(t, ":")
}

func localName(qname string) string {
	if i := strings.IndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
