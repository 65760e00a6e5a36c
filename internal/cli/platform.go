package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/ledger"
	"github.com/akshshar/xr-auditor/internal/relay"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// CommandTimeout bounds one shell invocation, relayed or local.
const CommandTimeout = 2 * time.Minute

// LedgerRetention is how long recorded runs are kept.
const LedgerRetention = 90 * 24 * time.Hour

// Platform is the local shell and the XR CLI reached through it.
type Platform struct {
	Shell *shell.Local
	XR    *shell.XR
	Debug bool
}

// Platform returns the local execution surface.
func (c *Common) Platform() Platform {
	sh := &shell.Local{Debug: c.Debug}
	return Platform{Shell: sh, XR: &shell.XR{Runner: sh, Timeout: CommandTimeout}, Debug: c.Debug}
}

// Topology resolves the router's execution contexts.
func (p Platform) Topology(ctx context.Context) (topology.Topology, error) {
	r := &topology.Resolver{CLI: p.XR, Shell: p.Shell, Timeout: CommandTimeout, Debug: p.Debug}
	return r.Resolve(ctx)
}

// Executor resolves the topology and returns a relay executor for it. The
// admin bridge user comes from the configuration, or from the running
// configuration when none is set.
func (p Platform) Executor(ctx context.Context, cfg *config.Config) (*relay.Executor, error) {
	topo, err := p.Topology(ctx)
	if err != nil {
		return nil, err
	}
	user := cfg.RootLRUser
	if user == "" {
		user, err = relay.RootLRUser(ctx, p.XR)
		if err != nil {
			return nil, fmt.Errorf("root-lr user: %w", err)
		}
		if p.Debug {
			log.Printf("[DEBUG] Using root-lr user %s", user)
		}
	}
	exec := relay.New(topo, p.Shell, user, CommandTimeout)
	exec.Debug = p.Debug
	return exec, nil
}

// RecordRun appends run to the ledger at path and drops runs older than
// LedgerRetention. Failures are logged, never returned.
func RecordRun(ctx context.Context, path string, run ledger.Run) {
	if path == "" {
		return
	}
	l, err := ledger.Open(ctx, path)
	if err != nil {
		log.Printf("[WARN] Ledger unavailable: %v", err)
		return
	}
	defer l.Close()
	if _, err := l.Record(ctx, run); err != nil {
		log.Printf("[WARN] Failed to record %s run: %v", run.Kind, err)
		return
	}
	if n, err := l.Prune(ctx, time.Now().Add(-LedgerRetention)); err != nil {
		log.Printf("[WARN] Failed to prune ledger: %v", err)
	} else if n > 0 {
		log.Printf("[INFO] Pruned %d old runs from ledger", n)
	}
}

// Outcome fills in the status fields of run from err.
func Outcome(run ledger.Run, err error) ledger.Run {
	run.Finished = time.Now()
	run.Status = ledger.StatusOK
	if err != nil {
		run.Status = ledger.StatusFailed
		run.Detail = err.Error()
	}
	return run
}
