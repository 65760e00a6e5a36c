package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/dump"
	"github.com/akshshar/xr-auditor/internal/merge"
	"github.com/akshshar/xr-auditor/internal/xsd"
	"github.com/akshshar/xr-auditor/userfiles"
)

func TestSourceDirs(t *testing.T) {
	cfg := config.Default()
	got := sourceDirs(cfg)
	want := map[string]string{
		audit.DomainXR:    "/misc/app_host",
		audit.DomainAdmin: "/misc/app_host",
		audit.DomainHost:  "/misc/app_host",
	}
	for d, dir := range want {
		if got[d] != dir {
			t.Errorf("sourceDirs()[%s] = %q, want %q", d, got[d], dir)
		}
	}

	cfg.Admin.OutputXMLDirXR = ""
	if got := sourceDirs(cfg)[audit.DomainAdmin]; got != "/misc/scratch" {
		t.Errorf("admin dir without output_xml_dir_xr = %q, want /misc/scratch", got)
	}
}

func TestServerKey(t *testing.T) {
	s := config.ServerConfig{IDRSAFile: "/misc/scratch/id_rsa", IDRSAXRFile: "/misc/app_host/id_rsa"}
	if got := serverKey(s); got != "/misc/app_host/id_rsa" {
		t.Errorf("serverKey() = %q", got)
	}
	s.IDRSAXRFile = ""
	if got := serverKey(s); got != "/misc/scratch/id_rsa" {
		t.Errorf("serverKey() fallback = %q", got)
	}
}

func TestWriteBundleRejectsInvalid(t *testing.T) {
	schema, err := xsd.Parse(userfiles.ComplianceXSD)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "compliance_audit_r1_192_0_2_1.xml")

	// INTEGRITY-SET needs at least one record.
	err = writeBundle(audit.Document{Version: audit.SchemaVersion, SchemaLocation: audit.SchemaLocation}, path, schema)
	var sve *dump.SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("writeBundle() error = %v, want *SchemaValidationError", err)
	}
	if sve.Path != path+merge.InvalidSuffix {
		t.Errorf("error path = %q, want %q", sve.Path, path+merge.InvalidSuffix)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("invalid bundle written under its bundle name: %v", err)
	}
	if _, err := os.Stat(path + merge.InvalidSuffix); err != nil {
		t.Errorf("invalid bundle not kept for inspection: %v", err)
	}
}
