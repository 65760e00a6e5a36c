// Package config defines the audit item specification and the auditor
// configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes directory items from file items.
type Kind string

// Item kinds, keyed as in the specification file.
const (
	KindDir  Kind = "DIR"
	KindFile Kind = "FILE"
)

// Default commands run against an item that names none.
const (
	DefaultDirCommand  = "ls -ld"
	DefaultFileCommand = "ls -la"
)

// Spec represents the complete audit item specification.
type Spec struct {
	Dirs  []Item `yaml:"DIR"`
	Files []Item `yaml:"FILE"`
}

// Item is a single directory or file to audit.
type Item struct {
	Kind     Kind     `yaml:"-"`
	Name     string   `yaml:"NAME"`          // Absolute path of the directory or file
	Commands Commands `yaml:"CMD,omitempty"` // Command templates, run in order
	Content  bool     `yaml:"CON,omitempty"` // Capture file content (FILE only)
	Checksum bool     `yaml:"CHK,omitempty"` // Capture file checksum (FILE only)
}

// Commands accepts either a single command or a list of commands.
type Commands []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Commands) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = Commands{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return fmt.Errorf("line %d: CMD must be a string or a list of strings", value.Line)
	}
}

// CommandList returns the item's command templates, or the kind's default.
func (i Item) CommandList() []string {
	if len(i.Commands) > 0 {
		return i.Commands
	}
	if i.Kind == KindDir {
		return []string{DefaultDirCommand}
	}
	return []string{DefaultFileCommand}
}

// Items returns every item in specification order, directories first.
func (s *Spec) Items() []Item {
	items := make([]Item, 0, len(s.Dirs)+len(s.Files))
	items = append(items, s.Dirs...)
	return append(items, s.Files...)
}

// Validate checks that every item is well formed.
func (s *Spec) Validate() error {
	for i, item := range s.Items() {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%s item %d: NAME is required", item.Kind, i)
		}
		if item.Kind == KindDir && (item.Content || item.Checksum) {
			return fmt.Errorf("DIR item %q: CON and CHK apply to FILE items only", item.Name)
		}
		for _, cmd := range item.Commands {
			if strings.TrimSpace(cmd) == "" {
				return fmt.Errorf("%s item %q: empty command", item.Kind, item.Name)
			}
		}
	}
	return nil
}

// ParseSpec decodes and validates an audit item specification. Unknown keys
// are rejected.
func ParseSpec(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("audit specification is empty")
		}
		return nil, fmt.Errorf("failed to parse audit specification: %w", err)
	}
	for i := range spec.Dirs {
		spec.Dirs[i].Kind = KindDir
	}
	for i := range spec.Files {
		spec.Files[i].Kind = KindFile
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpec reads the audit item specification at path.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit specification: %w", err)
	}
	return ParseSpec(data)
}
