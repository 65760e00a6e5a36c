package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	release, err := Setup(Options{Name: "audit_xr", Dir: dir, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	log.Printf("[INFO] Wrote %s", "/misc/app_host/XR-LXC.xml")
	release()

	data, err := os.ReadFile(filepath.Join(dir, "audit_xr.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "audit_xr: ") || !strings.Contains(string(data), "[INFO] Wrote /misc/app_host/XR-LXC.xml") {
		t.Errorf("log file = %q", data)
	}
	log.SetPrefix("")
}

func TestSetupRejectsUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Setup(Options{Name: "x", Dir: filepath.Join(file, "sub")}); err == nil {
		t.Error("Setup() error = nil for a directory under a file")
	}
}
