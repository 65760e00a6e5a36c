package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/dump"
	"github.com/akshshar/xr-auditor/internal/xsd"
	"github.com/akshshar/xr-auditor/userfiles"
)

func writeDump(t *testing.T, dir, domain string, general *audit.General) string {
	t.Helper()
	rec := audit.Integrity{
		Directories: audit.Directories{Items: []audit.Directory{{
			Name:    "/" + domain,
			CmdList: audit.CmdList{Commands: []audit.CommandResult{{Request: "ls -ld", Response: domain}}},
		}}},
	}
	data, err := dump.Serialize(dump.Build(domain, rec, general))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, audit.FileName(domain))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var primaryGeneral = &audit.General{Facts: []audit.Fact{
	{Name: "PRODUCT", Value: "NCS-55A1-24H"},
	{Name: "VENDOR", Value: "Cisco"},
	{Name: "IPADDR", Value: "192.168.122.21/24"},
	{Name: "HOST", Value: "rtr1"},
	{Name: "VERSION", Value: "7.3.2"},
	{Name: "DATE", Value: "20261018-09:30 UTC"},
	{Name: "OS", Value: "IOS-XR"},
}}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	sources := []Source{
		{Domain: audit.DomainAdmin, Path: writeDump(t, dir, audit.DomainAdmin, nil)},
		{Domain: audit.DomainXR, Path: writeDump(t, dir, audit.DomainXR, primaryGeneral)},
		{Domain: audit.DomainHost, Path: writeDump(t, dir, audit.DomainHost, nil)},
	}

	doc, err := New(1, 0).Merge(context.Background(), sources)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	var got []string
	for _, r := range doc.IntegritySet.Records {
		got = append(got, r.Domain)
	}
	if want := []string{"ADMIN-LXC", "XR-LXC", "HOST"}; !reflect.DeepEqual(got, want) {
		t.Errorf("record order = %v, want %v", got, want)
	}
	if doc.General == nil || !reflect.DeepEqual(doc.General.Facts, primaryGeneral.Facts) {
		t.Errorf("General = %+v, want the primary's", doc.General)
	}
	if doc.IntegritySet.Records[1].Directories.Items[0].Name != "/XR-LXC" {
		t.Error("primary record not kept in place")
	}

	schema, err := xsd.Parse(userfiles.ComplianceXSD)
	if err != nil {
		t.Fatal(err)
	}
	data, err := dump.Serialize(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := dump.Validate(data, schema); err != nil {
		t.Errorf("merged document invalid: %v", err)
	}
}

func TestMergeArbitraryDomains(t *testing.T) {
	dir := t.TempDir()
	var sources []Source
	for _, d := range []string{"A", "B", "C"} {
		doc := audit.Document{
			Version:        "2.0",
			SchemaLocation: "a.xsd",
			IntegritySet: audit.IntegritySet{Records: []audit.Integrity{{
				Domain:      d,
				Directories: audit.Directories{Items: []audit.Directory{{Name: "/" + d}}},
			}}},
		}
		if d == "A" {
			doc.General = primaryGeneral
		} else {
			doc.Version, doc.SchemaLocation = "9.9", "other.xsd"
		}
		data, err := dump.Serialize(doc)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, d+".xml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		sources = append(sources, Source{Domain: d, Path: path})
	}

	m := &Merger{WaitCount: 1, Primary: "A"}
	doc, err := m.Merge(context.Background(), sources)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	var got []string
	for _, r := range doc.IntegritySet.Records {
		got = append(got, r.Domain)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(got, want) {
		t.Errorf("record order = %v, want %v", got, want)
	}
	if doc.General == nil || !reflect.DeepEqual(doc.General.Facts, primaryGeneral.Facts) {
		t.Errorf("General = %+v, want A's", doc.General)
	}
	if doc.Version != "2.0" || doc.SchemaLocation != "a.xsd" {
		t.Errorf("envelope = %q %q, want A's", doc.Version, doc.SchemaLocation)
	}
}

func TestMergeWaitsForLateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, audit.FileName(audit.DomainHost))

	data, err := dump.Serialize(dump.Build(audit.DomainHost, audit.Integrity{}, nil))
	if err != nil {
		t.Fatal(err)
	}
	written := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		written <- dump.WriteFile(path, data)
	}()

	m := New(50, 10*time.Millisecond)
	doc, err := m.Merge(context.Background(), []Source{{Domain: audit.DomainHost, Path: path}})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(doc.IntegritySet.Records) != 1 {
		t.Errorf("records = %d, want 1", len(doc.IntegritySet.Records))
	}
	if err := <-written; err != nil {
		t.Fatal(err)
	}
}

func TestMergeTimeout(t *testing.T) {
	dir := t.TempDir()
	sources := []Source{
		{Domain: audit.DomainXR, Path: writeDump(t, dir, audit.DomainXR, primaryGeneral)},
		{Domain: audit.DomainAdmin, Path: filepath.Join(dir, "ADMIN-LXC.xml")},
	}
	start := time.Now()
	_, err := New(3, time.Millisecond).Merge(context.Background(), sources)
	var merr *MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("Merge() error = %v, want *MergeError", err)
	}
	if merr.Domain != audit.DomainAdmin {
		t.Errorf("MergeError.Domain = %s, want ADMIN-LXC", merr.Domain)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Merge() did not respect the wait ceiling")
	}
}

func TestMergeRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "XR-LXC.xml")
	if err := os.WriteFile(garbage, []byte("<not-a-dump>"), 0o644); err != nil {
		t.Fatal(err)
	}
	wrongDomain := writeDump(t, dir, audit.DomainHost, nil)

	tests := []struct {
		name string
		src  Source
	}{
		{"unparsable", Source{Domain: audit.DomainXR, Path: garbage}},
		{"record for another domain", Source{Domain: audit.DomainAdmin, Path: wrongDomain}},
		{"no domain", Source{Path: wrongDomain}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, 0).Merge(context.Background(), []Source{tt.src})
			var merr *MergeError
			if !errors.As(err, &merr) {
				t.Errorf("Merge() error = %v, want *MergeError", err)
			}
		})
	}
}

func TestSources(t *testing.T) {
	got := Sources(map[string]string{
		audit.DomainHost:  "/misc/app_host",
		audit.DomainXR:    "/misc/app_host",
		audit.DomainAdmin: "/misc/app_host/admin",
		"LC":              "/misc/app_host",
	})
	want := []Source{
		{audit.DomainXR, "/misc/app_host/XR-LXC.xml"},
		{audit.DomainAdmin, "/misc/app_host/admin/ADMIN-LXC.xml"},
		{audit.DomainHost, "/misc/app_host/HOST.xml"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sources() = %v, want %v", got, want)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		params  []string
		want    string
		wantErr bool
	}{
		{[]string{"router_hostname", "router_ip"}, "compliance_audit_rtr1_192_168_122_21.xml", false},
		{[]string{"router_mgmt_ip"}, "compliance_audit_192_168_122_21.xml", false},
		{nil, "compliance_audit.xml", false},
		{[]string{"serial"}, "", true},
	}
	for _, tt := range tests {
		got, err := FileName(tt.params, primaryGeneral)
		if (err != nil) != tt.wantErr {
			t.Errorf("FileName(%v) error = %v", tt.params, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FileName(%v) = %q, want %q", tt.params, got, tt.want)
		}
	}
}
