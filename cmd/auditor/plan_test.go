package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/ledger"
	"github.com/akshshar/xr-auditor/internal/topology"
)

func TestPlan(t *testing.T) {
	targets := plan(config.Default())

	type key struct {
		node topology.Node
		name string
	}
	got := map[key]bool{}
	for _, tg := range targets {
		got[key{tg.Node, tg.Artifact.Name}] = true
	}
	want := []key{
		{topology.XRActive, "audit_xr.bin"},
		{topology.XRActive, "collector.bin"},
		{topology.AdminActive, "audit_admin.bin"},
		{topology.HostActive, "audit_host.bin"},
		{topology.XRStandby, "audit_xr.bin"},
		{topology.XRStandby, "collector.bin"},
		{topology.XRStandby, "auditor"},
		{topology.AdminStandby, "audit_admin.bin"},
		{topology.HostStandby, "audit_host.bin"},
	}
	for _, k := range want {
		if !got[k] {
			t.Errorf("plan() missing %s on %s", k.name, k.node)
		}
	}
	if len(targets) != len(want) {
		t.Errorf("plan() has %d targets, want %d", len(targets), len(want))
	}

	if targets[0].Node != topology.XRActive {
		t.Errorf("first target on %s, want active XR first", targets[0].Node)
	}
	c := targets[0].Cron
	if c == nil || c.Src != "/misc/scratch/audit_xr.cron" || c.Dir != CronDir || c.Prefix != "audit_cron_xr_" {
		t.Errorf("XR cron = %+v", c)
	}
	for _, tg := range targets {
		if tg.Artifact.Name == "auditor" && tg.Cron != nil {
			t.Errorf("standby installer has a cron entry")
		}
	}

	active, standby := split(targets)
	if len(active) != 4 || len(standby) != 5 {
		t.Errorf("split() = %d active, %d standby, want 4 and 5", len(active), len(standby))
	}
}

func TestCleanXMLCommand(t *testing.T) {
	got := cleanXMLCommand("/misc/app_host")
	want := "rm -f /misc/app_host/XR-LXC*.xml /misc/app_host/ADMIN-LXC*.xml /misc/app_host/HOST*.xml /misc/app_host/compliance_audit*.xml /misc/app_host/compliance_audit*.xml.invalid"
	if got != want {
		t.Errorf("cleanXMLCommand() = %q, want %q", got, want)
	}
}

func TestListings(t *testing.T) {
	ls := listings(config.Default())
	var xrActive []string
	for _, l := range ls {
		if l.Node == topology.XRActive {
			xrActive = append(xrActive, l.Label+":"+l.Dir)
		}
	}
	// XR and collector share their directories.
	want := []string{"app:/misc/scratch", "cron:/etc/cron.d", "xml:/misc/app_host"}
	if strings.Join(xrActive, ",") != strings.Join(want, ",") {
		t.Errorf("XR active listings = %v, want %v", xrActive, want)
	}

	nodes := map[topology.Node]bool{}
	for _, l := range ls {
		nodes[l.Node] = true
	}
	if len(nodes) != len(topology.Nodes) {
		t.Errorf("listings cover %d nodes, want %d", len(nodes), len(topology.Nodes))
	}
}

func TestPrintHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := ledger.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	if _, err := l.Record(ctx, ledger.Run{
		Domain: "XR-LXC", Kind: ledger.KindDump, Path: "/misc/app_host/XR-LXC.xml",
		Status: ledger.StatusOK, Started: start, Finished: start.Add(1500 * time.Millisecond),
	}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	var buf bytes.Buffer
	if err := printHistory(ctx, &buf, path, 10); err != nil {
		t.Fatalf("printHistory() error = %v", err)
	}
	out := buf.String()
	for _, s := range []string{"STARTED", "dump", "XR-LXC", "ok", "1.5s", "/misc/app_host/XR-LXC.xml"} {
		if !strings.Contains(out, s) {
			t.Errorf("history output missing %q:\n%s", s, out)
		}
	}
}
