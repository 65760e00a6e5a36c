// Package audit defines the compliance data structures shared by the audit,
// collector and installer binaries.
package audit

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Domain names label each context's record in the merged document.
const (
	DomainXR    = "XR-LXC"
	DomainAdmin = "ADMIN-LXC"
	DomainHost  = "HOST"

	// PrimaryDomain supplies GENERAL and the envelope of a merged document.
	PrimaryDomain = DomainXR
)

// Document envelope constants.
const (
	RootElement    = "COMPLIANCE-DUMP"
	SchemaVersion  = "1.0.0"
	SchemaLocation = "compliance.xsd"
	XSINamespace   = "http://www.w3.org/2001/XMLSchema-instance"
)

// Domains is the declared merge order.
var Domains = []string{DomainXR, DomainAdmin, DomainHost}

// IsValidDomain reports whether name is one of the known domains.
func IsValidDomain(name string) bool {
	for _, d := range Domains {
		if d == name {
			return true
		}
	}
	return false
}

// FileName returns the per-domain dump file name.
func FileName(domain string) string {
	return domain + ".xml"
}

// CommandResult pairs a command template with what it printed.
type CommandResult struct {
	Request  string `xml:"REQUEST"`  // Command template as configured
	Response string `xml:"RESPONSE"` // Stdout, empty if the command failed
}

// CmdList wraps the ordered command results of one item.
type CmdList struct {
	Commands []CommandResult `xml:"CMD"`
}

// Directory is the evidence gathered for one audited directory.
type Directory struct {
	Name    string  `xml:"NAME"`
	CmdList CmdList `xml:"CMD-LIST"`
}

// File is the evidence gathered for one audited file. Content and Checksum are
// nil when they were not requested; when requested but unavailable they hold
// empty values and the matching OK flag stays false.
type File struct {
	Name     string   `xml:"NAME"`
	CmdList  CmdList  `xml:"CMD-LIST"`
	Content  *Content `xml:"CONTENT,omitempty"`
	Checksum *string  `xml:"CHECKSUM,omitempty"`

	ContentOK  bool `xml:"-"`
	ChecksumOK bool `xml:"-"`
}

// Content is a file body as stripped, non-empty lines. It is carried in XML as
// a JSON array so line structure survives the round trip.
type Content []string

// MarshalXML implements xml.Marshaler.
func (c Content) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	lines := []string(c)
	if lines == nil {
		lines = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(lines); err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}
	return e.EncodeElement(strings.TrimSuffix(buf.String(), "\n"), start)
}

// UnmarshalXML implements xml.Unmarshaler.
func (c *Content) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var text string
	if err := d.DecodeElement(&text, &start); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		*c = Content{}
		return nil
	}
	var lines []string
	if err := json.Unmarshal([]byte(text), &lines); err != nil {
		return fmt.Errorf("failed to decode content: %w", err)
	}
	*c = lines
	return nil
}

// Directories wraps the ordered directory entries.
type Directories struct {
	Items []Directory `xml:"DIRECTORY"`
}

// Files wraps the ordered file entries.
type Files struct {
	Items []File `xml:"FILE"`
}

// Integrity is one domain's integrity record.
type Integrity struct {
	Domain      string      `xml:"domain,attr"`
	Directories Directories `xml:"DIRECTORIES"`
	Files       Files       `xml:"FILES"`
}

// IntegritySet holds integrity records in merge order.
type IntegritySet struct {
	Records []Integrity `xml:"INTEGRITY"`
}

// Fact is one GENERAL field.
type Fact struct {
	Name  string
	Value string
}

// General holds system facts in schema-declared order.
type General struct {
	Facts []Fact
}

// Get returns the value of the named fact.
func (g *General) Get(name string) (string, bool) {
	if g == nil {
		return "", false
	}
	for _, f := range g.Facts {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalXML implements xml.Marshaler.
func (g General) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, f := range g.Facts {
		if err := e.EncodeElement(f.Value, xml.StartElement{Name: xml.Name{Local: f.Name}}); err != nil {
			return fmt.Errorf("failed to encode %s: %w", f.Name, err)
		}
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler.
func (g *General) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	g.Facts = nil
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return fmt.Errorf("failed to decode %s: %w", t.Name.Local, err)
			}
			g.Facts = append(g.Facts, Fact{Name: t.Name.Local, Value: value})
		case xml.EndElement:
			return nil
		}
	}
}

// Document is a COMPLIANCE-DUMP, either one domain's dump or a merged bundle.
type Document struct {
	Version        string
	SchemaLocation string
	General        *General
	IntegritySet   IntegritySet
}

type documentBody struct {
	General      *General     `xml:"GENERAL,omitempty"`
	IntegritySet IntegritySet `xml:"INTEGRITY-SET"`
}

// MarshalXML implements xml.Marshaler. The xsi attributes are written with
// literal prefixes so the output matches what schema-aware consumers expect.
func (doc Document) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{
		Name: xml.Name{Local: RootElement},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: doc.Version},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: XSINamespace},
			{Name: xml.Name{Local: "xsi:noNamespaceSchemaLocation"}, Value: doc.SchemaLocation},
		},
	}
	return e.EncodeElement(documentBody{General: doc.General, IntegritySet: doc.IntegritySet}, start)
}

// UnmarshalXML implements xml.Unmarshaler.
func (doc *Document) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != RootElement {
		return fmt.Errorf("unexpected root element %q, want %q", start.Name.Local, RootElement)
	}
	for _, a := range start.Attr {
		switch {
		case a.Name.Local == "version" && a.Name.Space == "":
			doc.Version = a.Value
		case a.Name.Local == "noNamespaceSchemaLocation":
			doc.SchemaLocation = a.Value
		}
	}
	var body documentBody
	if err := d.DecodeElement(&body, &start); err != nil {
		return err
	}
	doc.General = body.General
	doc.IntegritySet = body.IntegritySet
	return nil
}

// Record returns the integrity record for domain.
func (doc *Document) Record(domain string) (Integrity, bool) {
	for _, r := range doc.IntegritySet.Records {
		if r.Domain == domain {
			return r, true
		}
	}
	return Integrity{}, false
}
