// Package main implements the collector: it waits for every domain's dump,
// merges them into one compliance bundle, validates it and, on the active RP,
// ships it to the configured server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/cli"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/dump"
	"github.com/akshshar/xr-auditor/internal/ledger"
	"github.com/akshshar/xr-auditor/internal/merge"
	"github.com/akshshar/xr-auditor/internal/transfer"
	"github.com/akshshar/xr-auditor/internal/xsd"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := cli.LoadEnv(cli.EnvFilePath()); err != nil {
		return err
	}

	var common cli.Common
	var noSend bool
	flagSet := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	common.AddFlags(flagSet)
	flagSet.BoolVar(&noSend, "no-send", false, "merge and validate only, do not ship the bundle")
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

	cfg, err := common.Config()
	if err != nil {
		return err
	}
	release := common.StartLogging("collector", cfg)
	defer release()
	defer cli.Elapsed("collector", time.Now())

	lock, err := cli.Lock(cfg.Log.Dir, "collector")
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

	return collect(ctx, &common, cfg, !noSend)
}

func collect(ctx context.Context, common *cli.Common, cfg *config.Config, send bool) error {
	schema, err := common.Schema()
	if err != nil {
		return err
	}
	platform := common.Platform()
	topo, err := platform.Topology(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	m := merge.New(cfg.Wait.XMLCreationCount, cfg.Wait.XMLCreationWait())
	doc, err := m.Merge(ctx, merge.Sources(sourceDirs(cfg)))
	if err != nil {
		cli.RecordRun(ctx, cfg.LedgerPath, cli.Outcome(ledger.Run{Kind: ledger.KindMerge, Started: started}, err))
		return err
	}

	name, err := merge.FileName(cfg.Server.NameParams, doc.General)
	if err != nil {
		return err
	}
	bundle := filepath.Join(cfg.Collector.OutputXMLDir, name)
	err = writeBundle(doc, bundle, schema)
	cli.RecordRun(ctx, cfg.LedgerPath, cli.Outcome(ledger.Run{
		Domain: audit.PrimaryDomain, Kind: ledger.KindMerge, Path: bundle, Started: started,
	}, err))
	if err != nil {
		return err
	}

	switch {
	case !topo.HA().Active:
		log.Printf("[INFO] Standby RP, not sending %s", name)
		return nil
	case !send:
		log.Printf("[INFO] Sending disabled, %s left in %s", name, cfg.Collector.OutputXMLDir)
		return nil
	case !cfg.Server.Enabled():
		log.Printf("[INFO] No server configured, %s left in %s", name, cfg.Collector.OutputXMLDir)
		return nil
	}

	started = time.Now()
	sender := transfer.NewSender(platform.Shell, cfg.Server, serverKey(cfg.Server))
	err = sender.Send(ctx, bundle, name)
	cli.RecordRun(ctx, cfg.LedgerPath, cli.Outcome(ledger.Run{
		Domain: audit.PrimaryDomain, Kind: ledger.KindTransfer, Path: bundle, Started: started,
	}, err))
	return err
}

// sourceDirs maps each domain to the XR-visible directory its dump lands in.
func sourceDirs(cfg *config.Config) map[string]string {
	admin := cfg.Admin.OutputXMLDirXR
	if admin == "" {
		admin = cfg.Admin.OutputXMLDir
	}
	return map[string]string{
		audit.DomainXR:    cfg.XR.OutputXMLDir,
		audit.DomainAdmin: admin,
		audit.DomainHost:  cfg.Host.OutputXMLDir,
	}
}

func serverKey(s config.ServerConfig) string {
	if s.IDRSAXRFile != "" {
		return s.IDRSAXRFile
	}
	return s.IDRSAFile
}

// writeBundle validates doc and writes it to path. An invalid bundle is kept
// for inspection as <path>.invalid and never under the bundle name.
func writeBundle(doc audit.Document, path string, schema *xsd.Schema) error {
	data, err := dump.Serialize(doc)
	if err != nil {
		return err
	}
	if err := dump.Validate(data, schema); err != nil {
		rejected := path + merge.InvalidSuffix
		var sve *dump.SchemaValidationError
		if errors.As(err, &sve) {
			sve.Path = rejected
		}
		log.Printf("[ERROR] %v", err)
		if werr := dump.WriteFile(rejected, data); werr != nil {
			log.Printf("[WARN] Failed to keep rejected bundle: %v", werr)
		}
		return err
	}
	if err := dump.WriteFile(path, data); err != nil {
		return err
	}
	log.Printf("[INFO] Wrote %s (%d bytes)", path, len(data))
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Merge the per-domain compliance dumps and ship the bundle.

Waits for XR-LXC.xml, ADMIN-LXC.xml and HOST.xml, merges them in that
order, validates the result against the compliance schema and writes
compliance_audit_<params>.xml. The active RP then sends it to the
server in SERVER_CONFIG.

Usage:
  collector [flags]

Flags:
%s`, flagSet.FlagUsages())
}
