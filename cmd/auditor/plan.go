package main

import (
	"path"
	"strings"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/deploy"
	"github.com/akshshar/xr-auditor/internal/merge"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// CronDir is where every context keeps its cron entries.
const CronDir = "/etc/cron.d"

func artifact(dc config.DomainConfig) deploy.Artifact {
	return deploy.Artifact{SrcDir: dc.SrcDir, AppDir: dc.AppDir, Name: dc.AppName}
}

func target(node topology.Node, dc config.DomainConfig) deploy.Target {
	t := deploy.Target{Node: node, Artifact: artifact(dc)}
	if dc.CronName != "" && dc.CronPrefix != "" {
		t.Cron = &deploy.Cron{Src: path.Join(dc.SrcDir, dc.CronName), Dir: CronDir, Prefix: dc.CronPrefix}
	}
	return t
}

// plan returns every artifact the auditor manages, active RP first. The
// standby XR container also gets the installer itself so it can take over
// after a switchover.
func plan(cfg *config.Config) []deploy.Target {
	var targets []deploy.Target
	for _, role := range []topology.Role{topology.RoleActive, topology.RoleStandby} {
		xr := topology.Node{Kind: topology.KindXR, Role: role}
		targets = append(targets,
			target(xr, cfg.XR),
			target(xr, cfg.Collector),
			target(topology.Node{Kind: topology.KindAdmin, Role: role}, cfg.Admin),
			target(topology.Node{Kind: topology.KindHost, Role: role}, cfg.Host),
		)
		if role == topology.RoleStandby {
			targets = append(targets, deploy.Target{Node: xr, Artifact: artifact(cfg.StandbyInstaller)})
		}
	}
	return targets
}

func split(targets []deploy.Target) (active, standby []deploy.Target) {
	for _, t := range targets {
		if t.Node.Role == topology.RoleStandby {
			standby = append(standby, t)
		} else {
			active = append(active, t)
		}
	}
	return active, standby
}

// cleanXMLCommand removes accumulated domain dumps and bundles from dir.
func cleanXMLCommand(dir string) string {
	prefixes := make([]string, 0, len(audit.Domains)+1)
	prefixes = append(prefixes, audit.Domains...)
	prefixes = append(prefixes, merge.FilePrefix)

	globs := make([]string, len(prefixes))
	for i, p := range prefixes {
		globs[i] = shell.Quote(path.Join(dir, p)) + "*.xml"
	}
	globs = append(globs, shell.Quote(path.Join(dir, merge.FilePrefix))+"*.xml"+merge.InvalidSuffix)
	return "rm -f " + strings.Join(globs, " ")
}

// listing is one directory shown by --list-files.
type listing struct {
	Node  topology.Node
	Label string
	Dir   string
}

func listings(cfg *config.Config) []listing {
	var out []listing
	add := func(node topology.Node, dcs ...config.DomainConfig) {
		seen := map[string]bool{}
		dir := func(label, d string) {
			if d == "" || seen[d] {
				return
			}
			seen[d] = true
			out = append(out, listing{Node: node, Label: label, Dir: d})
		}
		for _, dc := range dcs {
			dir("app", dc.AppDir)
		}
		dir("cron", CronDir)
		for _, dc := range dcs {
			dir("xml", dc.OutputXMLDir)
		}
	}
	for _, role := range []topology.Role{topology.RoleActive, topology.RoleStandby} {
		add(topology.Node{Kind: topology.KindXR, Role: role}, cfg.XR, cfg.Collector)
		add(topology.Node{Kind: topology.KindAdmin, Role: role}, cfg.Admin)
		add(topology.Node{Kind: topology.KindHost, Role: role}, cfg.Host)
	}
	return out
}
