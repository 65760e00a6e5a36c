// Package main implements the per-context audit binary. The same binary is
// installed as audit_xr.bin, audit_admin.bin and audit_host.bin; the domain
// it audits comes from --domain or, when unset, from the name it runs as.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/cli"
	"github.com/akshshar/xr-auditor/internal/collector"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/dump"
	"github.com/akshshar/xr-auditor/internal/ledger"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// Exit codes.
const (
	exitFailure    = 1
	exitValidation = 2
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var sve *dump.SchemaValidationError
		if errors.As(err, &sve) {
			os.Exit(exitValidation)
		}
		os.Exit(exitFailure)
	}
}

func run() error {
	if err := cli.LoadEnv(cli.EnvFilePath()); err != nil {
		return err
	}

	var common cli.Common
	var domain, outputDir string
	flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	common.AddFlags(flagSet)
	flagSet.StringVar(&domain, "domain", "", "domain to audit: XR-LXC, ADMIN-LXC or HOST (default: from program name)")
	flagSet.StringVarP(&outputDir, "output-dir", "o", "", "directory for the domain XML (default: output_xml_dir of the domain)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if domain == "" {
		domain = domainFromName(os.Args[0])
	}
	if !audit.IsValidDomain(domain) {
		return fmt.Errorf("unknown domain %q, use --domain", domain)
	}

	cfg, err := common.Config()
	if err != nil {
		return err
	}
	dc, err := cfg.Domain(domain)
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = dc.OutputXMLDir
	}

	release := common.StartLogging(strings.TrimSuffix(dc.AppName, path.Ext(dc.AppName)), cfg)
	defer release()
	defer cli.Elapsed("audit "+domain, time.Now())

	lock, err := cli.Lock(cfg.Log.Dir, "audit_"+domain)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("[WARN] Failed to release lock: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &auditor{common: &common, cfg: cfg, domain: domain, dir: outputDir}
	return a.run(ctx)
}

type auditor struct {
	common *cli.Common
	cfg    *config.Config
	domain string
	dir    string
}

func (a *auditor) run(ctx context.Context) error {
	spec, err := a.common.Spec()
	if err != nil {
		return err
	}
	schema, err := a.common.Schema()
	if err != nil {
		return err
	}
	platform := a.common.Platform()

	log.Printf("[INFO] Auditing %s into %s", a.domain, a.dir)
	runner := &collector.LocalRunner{Shell: platform.Shell, Timeout: cli.CommandTimeout}
	integrity := collector.Collect(ctx, spec, a.domain, runner)

	var general *audit.General
	if a.domain == audit.PrimaryDomain {
		fields, err := schema.GeneralFields()
		if err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		pattern, _ := schema.Pattern("DATE")
		g, err := collector.NewGeneral(platform.XR, fields, pattern)
		if err != nil {
			return err
		}
		general = g.Collect(ctx)
	}

	started := time.Now()
	doc := dump.Build(a.domain, integrity, general)
	written, err := dump.WriteAndValidate(doc, a.dir, schema)
	cli.RecordRun(ctx, a.cfg.LedgerPath, cli.Outcome(ledger.Run{
		Domain: a.domain, Kind: ledger.KindDump, Path: written, Started: started,
	}, err))
	if err != nil {
		return err
	}

	if a.domain == audit.DomainAdmin && a.cfg.Admin.OutputXMLDirXR != "" {
		if err := publish(ctx, platform.Shell, written, a.cfg.Admin.OutputXMLDirXR); err != nil {
			return err
		}
	}
	return nil
}

// publish copies the admin dump to the host, whose /misc/app_host is the
// directory the XR collector reads.
func publish(ctx context.Context, runner shell.Runner, localPath, dir string) error {
	cmd := publishCommand(localPath, dir)
	if _, err := shell.Bash(ctx, runner, cmd, cli.CommandTimeout); err != nil {
		log.Printf("[ERROR] Failed to publish %s: %v", localPath, err)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(localPath), err)
	}
	log.Printf("[INFO] Published %s to %s:%s", localPath, topology.HostIP, dir)
	return nil
}

func publishCommand(localPath, dir string) string {
	remote := "root@" + topology.HostIP + ":" + path.Join(dir, audit.FileName(audit.DomainAdmin))
	return "scp " + shell.Quote(localPath) + " " + shell.Quote(remote)
}

// domainFromName maps an installed program name such as audit_admin.bin to
// its domain. Unknown names return "".
func domainFromName(arg0 string) string {
	name := filepath.Base(arg0)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	switch strings.TrimPrefix(name, "audit_") {
	case "xr":
		return audit.DomainXR
	case "admin":
		return audit.DomainAdmin
	case "host":
		return audit.DomainHost
	}
	return ""
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Collect the compliance audit of one execution context.

Runs the configured integrity checks, adds the GENERAL facts in XR-LXC,
writes <DOMAIN>.xml and validates it against the compliance schema.
The ADMIN-LXC dump is then copied to the host for the collector.

Usage:
  audit [flags]

Flags:
%s`, flagSet.FlagUsages())
}
