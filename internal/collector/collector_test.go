package collector

import (
	"context"
	"crypto/md5" //nolint:gosec // md5sum compatible
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/shell/shelltest"
)

// recordingRunner answers every command with its own text and records calls.
type recordingRunner struct {
	calls []string
	fail  map[string]bool
}

func (r *recordingRunner) Run(_ context.Context, command string) (string, error) {
	r.calls = append(r.calls, command)
	if r.fail[command] {
		return "", errors.New("exit status 1")
	}
	return "out:" + command, nil
}

func TestCollectPreservesOrder(t *testing.T) {
	spec := &config.Spec{
		Dirs: []config.Item{
			{Name: "/etc", Commands: config.Commands{"ls -ld", "stat -c %a"}},
			{Name: "/var/log"},
			{Name: "/boot"},
		},
		Files: []config.Item{
			{Name: "/etc/passwd", Commands: config.Commands{"wc -l", "ls -la", "head -1 {NAME}"}},
			{Name: "/etc/group"},
		},
	}
	r := &recordingRunner{}
	rec := Collect(context.Background(), spec, "HOST", r)

	if rec.Domain != "HOST" {
		t.Errorf("Domain = %q, want HOST", rec.Domain)
	}
	var dirs []string
	for _, d := range rec.Directories.Items {
		dirs = append(dirs, d.Name)
	}
	if want := []string{"/etc", "/var/log", "/boot"}; !reflect.DeepEqual(dirs, want) {
		t.Errorf("directory order = %v, want %v", dirs, want)
	}

	var requests []string
	for _, c := range rec.Files.Items[0].CmdList.Commands {
		requests = append(requests, c.Request)
	}
	if want := []string{"wc -l", "ls -la", "head -1 {NAME}"}; !reflect.DeepEqual(requests, want) {
		t.Errorf("command order = %v, want %v", requests, want)
	}
	if got := rec.Files.Items[0].CmdList.Commands[2].Response; got != "out:head -1 /etc/passwd" {
		t.Errorf("templated response = %q", got)
	}
	if got := rec.Directories.Items[1].CmdList.Commands[0].Request; got != config.DefaultDirCommand {
		t.Errorf("default dir command = %q", got)
	}
	if got := rec.Files.Items[1].CmdList.Commands[0].Request; got != config.DefaultFileCommand {
		t.Errorf("default file command = %q", got)
	}
	if rec.Files.Items[1].Content != nil || rec.Files.Items[1].Checksum != nil {
		t.Error("content or checksum present without being requested")
	}

	wantCalls := []string{
		"ls -ld /etc", "stat -c %a /etc", "ls -ld /var/log", "ls -ld /boot",
		"wc -l /etc/passwd", "ls -la /etc/passwd", "head -1 /etc/passwd", "ls -la /etc/group",
	}
	if !reflect.DeepEqual(r.calls, wantCalls) {
		t.Errorf("calls = %v, want %v", r.calls, wantCalls)
	}
}

func TestCollectFailedCommandRecordsEmptyResponse(t *testing.T) {
	spec := &config.Spec{Dirs: []config.Item{{Name: "/missing"}}}
	r := &recordingRunner{fail: map[string]bool{"ls -ld /missing": true}}
	rec := Collect(context.Background(), spec, "XR-LXC", r)
	if got := rec.Directories.Items[0].CmdList.Commands[0]; got.Request != "ls -ld" || got.Response != "" {
		t.Errorf("command result = %+v, want empty response", got)
	}
}

func TestCollectChecksumMatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostname")
	data := []byte("rtr1\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum(data) //nolint:gosec // md5sum compatible
	want := hex.EncodeToString(sum[:])

	spec := &config.Spec{Files: []config.Item{{Name: path, Checksum: true, Content: true}}}
	runner := &LocalRunner{Shell: &shell.Local{}, Timeout: 10 * time.Second}
	rec := Collect(context.Background(), spec, "XR-LXC", runner)

	if len(rec.Files.Items) != 1 {
		t.Fatalf("files = %d, want 1", len(rec.Files.Items))
	}
	f := rec.Files.Items[0]
	if f.Checksum == nil || *f.Checksum != want || !f.ChecksumOK {
		t.Errorf("checksum = %v (ok %v), want %s", f.Checksum, f.ChecksumOK, want)
	}
	if f.Content == nil || !reflect.DeepEqual([]string(*f.Content), []string{"rtr1"}) || !f.ContentOK {
		t.Errorf("content = %v, want [rtr1]", f.Content)
	}
}

func TestCollectMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")
	spec := &config.Spec{Files: []config.Item{{Name: path, Checksum: true, Content: true}}}
	runner := &LocalRunner{Shell: &shell.Local{}, Timeout: 10 * time.Second}
	rec := Collect(context.Background(), spec, "HOST", runner)

	f := rec.Files.Items[0]
	if f.Checksum == nil || *f.Checksum != "" || f.ChecksumOK {
		t.Errorf("checksum = %v (ok %v), want empty and not ok", f.Checksum, f.ChecksumOK)
	}
	if f.Content == nil || len(*f.Content) != 0 || f.ContentOK {
		t.Errorf("content = %v (ok %v), want empty and not ok", f.Content, f.ContentOK)
	}
	if got := f.CmdList.Commands[0].Response; got != "" {
		t.Errorf("ls response = %q, want empty", got)
	}
}

func TestCollectRemoteChecksumAndContent(t *testing.T) {
	r := &scriptedRunner{out: map[string]string{
		"md5sum /etc/hostname": "d41d8cd98f00b204e9800998ecf8427e  /etc/hostname\n",
		"cat /etc/hostname":    "  rtr1  \n\n  second\n",
		"ls -la /etc/hostname": "-rw-r--r-- 1 root root 5 Oct 18 09:30 /etc/hostname",
	}}
	spec := &config.Spec{Files: []config.Item{{Name: "/etc/hostname", Checksum: true, Content: true}}}
	rec := Collect(context.Background(), spec, "ADMIN-LXC", r)

	f := rec.Files.Items[0]
	if *f.Checksum != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("checksum = %q", *f.Checksum)
	}
	if want := []string{"rtr1", "second"}; !reflect.DeepEqual([]string(*f.Content), want) {
		t.Errorf("content = %v, want %v", *f.Content, want)
	}
}

type scriptedRunner struct {
	out map[string]string
}

func (s *scriptedRunner) Run(_ context.Context, command string) (string, error) {
	out, ok := s.out[command]
	if !ok {
		return "", errors.New("command failed")
	}
	return out, nil
}

func TestExpand(t *testing.T) {
	tests := []struct {
		tmpl, name, want string
	}{
		{"ls -la", "/etc/hosts", "ls -la /etc/hosts"},
		{"grep root {NAME}", "/etc/passwd", "grep root /etc/passwd"},
		{"ls -la", "/tmp/with space", "ls -la '/tmp/with space'"},
		{"diff {NAME} {NAME}", "/a", "diff /a /a"},
	}
	for _, tt := range tests {
		if got := Expand(tt.tmpl, tt.name); got != tt.want {
			t.Errorf("Expand(%q, %q) = %q, want %q", tt.tmpl, tt.name, got, tt.want)
		}
	}
}

type fakeCLI struct {
	outputs map[string][]string
	calls   int
}

func (f *fakeCLI) Exec(_ context.Context, cli string) ([]string, error) {
	f.calls++
	out, ok := f.outputs[cli]
	if !ok {
		return nil, errors.New("command failed")
	}
	return out, nil
}

var routerCLI = map[string][]string{
	"show running-config hostname": {"Sun Oct 18 09:30:00.123 UTC", "hostname rtr1"},
	"show clock":                   {"09:30:12.345 UTC Sun Oct 18 2026"},
	"show inventory details": {
		`NAME: "Rack 0", DESCR: "NCS 5500 1RU Chassis"`,
		`PID: NCS-55A1-24H, VID: V01, SN: FOC0000A`,
		`NAME: "0/RP0/CPU0", DESCR: "NCS 5500 Route Processor"`,
		`PID: NCS-55A1-24H-RP , VID: V01, SN: FOC0000B`,
	},
	"show version": {"Cisco IOS XR Software, Version 7.3.2", "Copyright (c) 2013-2021 by Cisco Systems, Inc."},
	"show interface MgmtEth0/RP0/CPU0/0": {
		"MgmtEth0/RP0/CPU0/0 is up, line protocol is up",
		"  Interface state transitions: 1",
		"  Hardware is Management Ethernet, address is 0800.2700.0001",
		"  Internet address is 192.168.122.21/24",
	},
}

func TestGeneralCollect(t *testing.T) {
	fields := []string{"PRODUCT", "VENDOR", "IPADDR", "HOST", "VERSION", "DATE", "OS"}
	g, err := NewGeneral(&fakeCLI{outputs: routerCLI}, fields, `[0-9]{8}-[0-9]{2}:[0-9]{2} [A-Z]{2,5}`)
	if err != nil {
		t.Fatalf("NewGeneral() error = %v", err)
	}
	got := g.Collect(context.Background())

	want := map[string]string{
		"PRODUCT": "NCS-55A1-24H-RP",
		"VENDOR":  "Cisco",
		"IPADDR":  "192.168.122.21/24",
		"HOST":    "rtr1",
		"VERSION": "7.3.2",
		"DATE":    "20261018-09:30 UTC",
		"OS":      "IOS-XR",
	}
	if len(got.Facts) != len(fields) {
		t.Fatalf("facts = %d, want %d", len(got.Facts), len(fields))
	}
	for i, f := range got.Facts {
		if f.Name != fields[i] {
			t.Errorf("fact %d = %s, want %s", i, f.Name, fields[i])
		}
		if f.Value != want[f.Name] {
			t.Errorf("%s = %q, want %q", f.Name, f.Value, want[f.Name])
		}
	}
}

func TestNewGeneralRejectsUnknownFields(t *testing.T) {
	cli := &fakeCLI{outputs: routerCLI}
	_, err := NewGeneral(cli, []string{"HOST", "SERIAL", "UPTIME"}, "")
	if err == nil || !strings.Contains(err.Error(), "SERIAL, UPTIME") {
		t.Fatalf("NewGeneral() error = %v, want unsupported fields", err)
	}
	if cli.calls != 0 {
		t.Errorf("CLI called %d times before rejecting fields", cli.calls)
	}
}

func TestGeneralDateFallback(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		clock   []string
		pattern string
		want    string
	}{
		{"matches", []string{"09:30:12.345 UTC Sun Oct 8 2026"}, "", "20261008-09:30 UTC"},
		{"pattern mismatch", []string{"09:30:12.345 UTC Sun Oct 18 2026"}, `[0-9]{4}`, "20260102-03:04 UTC"},
		{"unparsable clock", []string{"garbage"}, "", "20260102-03:04 UTC"},
		{"invalid pattern", []string{"09:30:12.345 PDT Sun Oct 18 2026"}, `([`, "20261018-09:30 PDT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := &fakeCLI{outputs: map[string][]string{"show clock": tt.clock}}
			g, err := NewGeneral(cli, []string{"DATE"}, tt.pattern)
			if err != nil {
				t.Fatalf("NewGeneral() error = %v", err)
			}
			g.now = func() time.Time { return fixed }
			got, _ := g.Collect(context.Background()).Get("DATE")
			if got != tt.want {
				t.Errorf("DATE = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeneralMissingFactIsEmpty(t *testing.T) {
	g, err := NewGeneral(&fakeCLI{outputs: map[string][]string{}}, []string{"HOST", "VENDOR"}, "")
	if err != nil {
		t.Fatal(err)
	}
	got := g.Collect(context.Background())
	if v, _ := got.Get("HOST"); v != "" {
		t.Errorf("HOST = %q, want empty", v)
	}
	if v, _ := got.Get("VENDOR"); v != "Cisco" {
		t.Errorf("VENDOR = %q, want Cisco", v)
	}
}

func TestLocalRunnerRun(t *testing.T) {
	fake := &shelltest.Fake{Responses: map[string]shell.Result{
		"ls -ld /etc": shelltest.OK("drwxr-xr-x 1 root root 4096 Oct 18 09:30 /etc\n"),
	}}
	r := &LocalRunner{Shell: fake}
	out, err := r.Run(context.Background(), "ls -ld /etc")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "drwxr-xr-x 1 root root 4096 Oct 18 09:30 /etc" {
		t.Errorf("Run() = %q", out)
	}
	if _, err := r.Run(context.Background(), "false"); err == nil {
		t.Error("Run(false) error = nil")
	}
}
