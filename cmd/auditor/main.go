// Package main implements the auditor installer. Run on the active XR
// container, it places the audit binaries, the collector and their cron
// entries in every execution context of both RPs, removes them again, cleans
// accumulated XML and reports what is installed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/akshshar/xr-auditor/internal/cli"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/deploy"
	"github.com/akshshar/xr-auditor/internal/ledger"
	"github.com/akshshar/xr-auditor/internal/relay"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cleanAfterUninstall gives a cron run that started before its entry was
// removed time to finish writing its XML.
const cleanAfterUninstall = 30 * time.Second

type options struct {
	install   bool
	uninstall bool
	cleanXML  bool
	listFiles bool
	version   bool
	policy    string
	history   int
}

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
	var opts options
	flagSet := pflag.NewFlagSet("auditor", pflag.ContinueOnError)
	common.AddFlags(flagSet)
	flagSet.BoolVarP(&opts.install, "install", "i", false, "install the audit apps, collector and cron jobs on every node")
	flagSet.BoolVarP(&opts.uninstall, "uninstall", "u", false, "remove every installed artifact")
	flagSet.BoolVarP(&opts.cleanXML, "clean-xml", "c", false, "remove accumulated XML files")
	flagSet.BoolVarP(&opts.listFiles, "list-files", "l", false, "list the audit apps, cron jobs and XML files on every node")
	flagSet.BoolVarP(&opts.version, "version", "v", false, "print the auditor version and exit")
	flagSet.StringVar(&opts.policy, "policy", deploy.FailFast.String(), "standby sync policy: fail-fast or best-effort")
	flagSet.IntVar(&opts.history, "history", 0, "print the last N recorded runs")
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
	if opts.version {
		fmt.Println(version)
		return nil
	}
	if !opts.install && !opts.uninstall && !opts.cleanXML && !opts.listFiles && opts.history <= 0 {
		printHelp(flagSet)
		return nil
	}
	if opts.install && opts.uninstall {
		return errors.New("--install and --uninstall are mutually exclusive")
	}
	policy, err := deploy.ParsePolicy(opts.policy)
	if err != nil {
		return err
	}

	cfg, err := common.Config()
	if err != nil {
		return err
	}
	release := common.StartLogging("auditor", cfg)
	defer release()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.history > 0 {
		return printHistory(ctx, os.Stdout, cfg.LedgerPath, opts.history)
	}

	lock, err := cli.Lock(cfg.Log.Dir, "auditor")
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("[WARN] Failed to release lock: %v", err)
		}
	}()

	exec, err := common.Platform().Executor(ctx, cfg)
	if err != nil {
		return err
	}

	if opts.listFiles {
		return listFiles(ctx, os.Stdout, exec, cfg)
	}

	inst := &deploy.Installer{
		Remote:       exec,
		WaitCount:    cfg.Wait.OpenFileCount,
		WaitInterval: cfg.Wait.OpenFileWait(),
		Policy:       policy,
	}

	switch {
	case opts.install:
		if err := install(ctx, inst, cfg); err != nil {
			return err
		}
	case opts.uninstall:
		if err := uninstall(ctx, inst, cfg); err != nil {
			return err
		}
	}

	if opts.cleanXML {
		if opts.uninstall {
			log.Printf("[INFO] Waiting %v for running audits before cleaning XML", cleanAfterUninstall)
			select {
			case <-time.After(cleanAfterUninstall):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return cleanXML(ctx, exec, cfg)
	}
	return nil
}

// install places the active RP's artifacts, always failing fast, then syncs
// the standby RP under the chosen policy.
func install(ctx context.Context, inst *deploy.Installer, cfg *config.Config) error {
	started := time.Now()
	active, _ := split(plan(cfg))

	policy := inst.Policy
	inst.Policy = deploy.FailFast
	err := inst.InstallAll(ctx, active)
	inst.Policy = policy
	if err == nil {
		err = inst.Sync(ctx, plan(cfg))
	}
	cli.RecordRun(ctx, cfg.LedgerPath, cli.Outcome(ledger.Run{Kind: ledger.KindInstall, Started: started}, err))
	if err != nil {
		log.Printf("[ERROR] Install failed: %v", err)
		return err
	}
	log.Printf("[INFO] Auditor %s installed", version)
	return nil
}

// uninstall removes the standby RP's artifacts first so the active RP's
// installer stays available until the end.
func uninstall(ctx context.Context, inst *deploy.Installer, cfg *config.Config) error {
	started := time.Now()
	active, standby := split(plan(cfg))
	err := inst.UninstallAll(ctx, standby)
	if err == nil || inst.Policy == deploy.BestEffort {
		err = errors.Join(err, inst.UninstallAll(ctx, active))
	}
	cli.RecordRun(ctx, cfg.LedgerPath, cli.Outcome(ledger.Run{Kind: ledger.KindUninstall, Started: started}, err))
	if err != nil {
		log.Printf("[ERROR] Uninstall failed: %v", err)
		return err
	}
	log.Printf("[INFO] Auditor uninstalled")
	return nil
}

// cleanXML removes accumulated XML from the XR output directories on both RPs.
func cleanXML(ctx context.Context, exec *relay.Executor, cfg *config.Config) error {
	dirs := []string{cfg.XR.OutputXMLDir}
	if cfg.Collector.OutputXMLDir != cfg.XR.OutputXMLDir {
		dirs = append(dirs, cfg.Collector.OutputXMLDir)
	}
	for _, node := range []topology.Node{topology.XRActive, topology.XRStandby} {
		for _, dir := range dirs {
			_, err := exec.Run(ctx, node, cleanXMLCommand(dir))
			switch {
			case errors.Is(err, relay.ErrNotApplicable):
				continue
			case err != nil:
				return fmt.Errorf("failed to clean XML in %s on %s: %w", dir, node, err)
			}
			log.Printf("[INFO] Cleaned XML files in %s on %s", dir, node)
		}
	}
	return nil
}

func listFiles(ctx context.Context, w io.Writer, exec *relay.Executor, cfg *config.Config) error {
	var node relay.NodeRunner
	for _, l := range listings(cfg) {
		if l.Node != node.Node() {
			node = exec.Bind(l.Node)
			fmt.Fprintf(w, "\n### %s\n", l.Node)
		}
		out, err := node.Run(ctx, "ls -lrt "+shell.Quote(l.Dir))
		switch {
		case errors.Is(err, relay.ErrNotApplicable):
			fmt.Fprintf(w, "\n%s (%s): not available\n", l.Dir, l.Label)
			continue
		case err != nil:
			fmt.Fprintf(w, "\n%s (%s): %v\n", l.Dir, l.Label, err)
			continue
		}
		fmt.Fprintf(w, "\n%s (%s):\n%s\n", l.Dir, l.Label, out)
	}
	return nil
}

func printHistory(ctx context.Context, w io.Writer, path string, limit int) error {
	l, err := ledger.Open(ctx, path)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tDOMAIN\tSTATUS\tDURATION\tPATH\tDETAIL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			r.Started.Format(time.RFC3339), r.Kind, r.Domain, r.Status,
			r.Duration().Round(time.Millisecond), r.Path, r.Detail)
	}
	return tw.Flush()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Install and manage the IOS-XR compliance auditor.

Run on the active RP's XR container. --install copies the audit apps,
the collector and their cron jobs to the XR, admin and host contexts of
both RPs, replacing running copies only once they are released.

Usage:
  auditor [flags]

Flags:
%s`, flagSet.FlagUsages())
}
