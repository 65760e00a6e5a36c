package main

import (
	"testing"

	"github.com/akshshar/xr-auditor/internal/audit"
)

func TestDomainFromName(t *testing.T) {
	tests := []struct {
		arg0 string
		want string
	}{
		{"/misc/scratch/audit_xr.bin", audit.DomainXR},
		{"audit_admin.bin", audit.DomainAdmin},
		{"./audit_host", audit.DomainHost},
		{"/usr/local/bin/audit", ""},
		{"collector.bin", ""},
	}
	for _, tt := range tests {
		if got := domainFromName(tt.arg0); got != tt.want {
			t.Errorf("domainFromName(%q) = %q, want %q", tt.arg0, got, tt.want)
		}
	}
}

func TestPublishCommand(t *testing.T) {
	got := publishCommand("/misc/scratch/ADMIN-LXC.xml", "/misc/app_host")
	want := "scp /misc/scratch/ADMIN-LXC.xml root@10.0.2.16:/misc/app_host/ADMIN-LXC.xml"
	if got != want {
		t.Errorf("publishCommand() = %q, want %q", got, want)
	}
}
