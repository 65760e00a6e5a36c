// Package userfiles carries the default schema and configuration files that
// ship with the auditor binaries.
package userfiles

import _ "embed"

// ComplianceXSD is the default compliance schema.
//
//go:embed compliance.xsd
var ComplianceXSD []byte

// ComplianceSpec is the default audit item specification.
//
//go:embed compliance.cfg.yml
var ComplianceSpec []byte

// AuditorConfig is the default auditor configuration.
//
//go:embed auditor.cfg.yml
var AuditorConfig []byte
