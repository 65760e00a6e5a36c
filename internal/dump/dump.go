// Package dump builds, serializes and validates per-domain compliance dumps.
package dump

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/xsd"
)

// SchemaValidationError reports a document that does not conform to the
// compliance schema.
type SchemaValidationError struct {
	Path string // file that was validated, empty for in-memory documents
	Err  error
}

func (e *SchemaValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema validation failed: %v", e.Err)
	}
	return fmt.Sprintf("schema validation failed for %s: %v", e.Path, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// Build wraps one domain's integrity record in a document envelope. general
// is only kept for the primary domain.
func Build(domain string, integrity audit.Integrity, general *audit.General) audit.Document {
	integrity.Domain = domain
	doc := audit.Document{
		Version:        audit.SchemaVersion,
		SchemaLocation: audit.SchemaLocation,
		IntegritySet:   audit.IntegritySet{Records: []audit.Integrity{integrity}},
	}
	if domain == audit.PrimaryDomain {
		doc.General = general
	}
	return doc
}

// Serialize renders doc as indented XML with an XML declaration.
func Serialize(doc audit.Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse decodes a serialized document.
func Parse(data []byte) (audit.Document, error) {
	var doc audit.Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return audit.Document{}, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

// Validate checks data against schema.
func Validate(data []byte, schema *xsd.Schema) error {
	if schema == nil {
		return &SchemaValidationError{Err: errors.New("no schema loaded")}
	}
	if err := schema.Validate(data); err != nil {
		return &SchemaValidationError{Err: err}
	}
	return nil
}

// WriteAndValidate writes doc to <dir>/<domain>.xml, then reads the file back,
// parses it and validates what was written. A file that fails validation is
// left in place for inspection and reported as a *SchemaValidationError.
func WriteAndValidate(doc audit.Document, dir string, schema *xsd.Schema) (string, error) {
	if len(doc.IntegritySet.Records) == 0 {
		return "", errors.New("document has no integrity record")
	}
	domain := doc.IntegritySet.Records[0].Domain
	path := filepath.Join(dir, audit.FileName(domain))

	data, err := Serialize(doc)
	if err != nil {
		return "", err
	}
	if err := WriteFile(path, data); err != nil {
		return "", err
	}

	written, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to re-read %s: %w", path, err)
	}
	reparsed, err := Parse(written)
	if err != nil {
		return "", &SchemaValidationError{Path: path, Err: err}
	}
	if _, ok := reparsed.Record(domain); !ok {
		return "", &SchemaValidationError{Path: path, Err: fmt.Errorf("record for %s lost in round trip", domain)}
	}
	if err := Validate(written, schema); err != nil {
		var sve *SchemaValidationError
		if errors.As(err, &sve) {
			sve.Path = path
		}
		log.Printf("[ERROR] %v", err)
		return "", err
	}
	log.Printf("[INFO] Wrote %s (%d bytes)", path, len(written))
	return path, nil
}

// WriteFile replaces path atomically with data, readable by other contexts.
func WriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // Best-effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	success = true
	return nil
}
