package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"

	"github.com/akshshar/xr-auditor/internal/relay"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// Policy decides what a batch does after one target fails.
type Policy int

const (
	// FailFast stops at the first failure.
	FailFast Policy = iota
	// BestEffort attempts every target and reports all failures together.
	BestEffort
)

// ParsePolicy maps "fail-fast" and "best-effort" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail-fast":
		return FailFast, nil
	case "best-effort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("unknown sync policy %q", s)
	}
}

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// Target pairs an artifact with the node it belongs on.
type Target struct {
	Node     topology.Node
	Artifact Artifact
	Cron     *Cron
}

// Cron is a cron.d entry shipped alongside an artifact.
type Cron struct {
	Src    string // file on the active XR container
	Dir    string // cron.d directory on the node
	Prefix string // every file with this prefix belongs to the auditor
}

// InstallAll installs every target. Standby targets without a standby RP
// are skipped.
func (i *Installer) InstallAll(ctx context.Context, targets []Target) error {
	return i.each(ctx, targets, "install", func(t Target) error {
		if err := i.Install(ctx, t.Node, t.Artifact); err != nil {
			return err
		}
		if t.Cron != nil {
			return i.InstallCron(ctx, t.Node, *t.Cron)
		}
		return nil
	})
}

// UninstallAll removes every target, cron entries first.
func (i *Installer) UninstallAll(ctx context.Context, targets []Target) error {
	return i.each(ctx, targets, "uninstall", func(t Target) error {
		if t.Cron != nil {
			if err := i.UninstallCron(ctx, t.Node, *t.Cron); err != nil {
				return err
			}
		}
		return i.Uninstall(ctx, t.Node, t.Artifact)
	})
}

func (i *Installer) each(ctx context.Context, targets []Target, op string, fn func(Target) error) error {
	var errs []error
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(t)
		if err == nil {
			continue
		}
		if errors.Is(err, relay.ErrNotApplicable) {
			log.Printf("[INFO] Skipping %s of %s on %s: no standby RP", op, t.Artifact.Name, t.Node)
			continue
		}
		err = fmt.Errorf("%s %s on %s: %w", op, t.Artifact.Name, t.Node, err)
		if i.Policy == FailFast {
			return err
		}
		log.Printf("[WARN] %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InstallCron replaces the auditor's cron.d entries on node with c.Src.
func (i *Installer) InstallCron(ctx context.Context, node topology.Node, c Cron) error {
	if err := i.UninstallCron(ctx, node, c); err != nil {
		return err
	}
	dst := path.Join(c.Dir, c.Prefix+i.timestamp())
	if _, err := i.Remote.Copy(ctx, node, relay.To, c.Src, dst); err != nil {
		return fmt.Errorf("failed to install cron file on %s: %w", node, err)
	}
	log.Printf("[INFO] Installed cron file %s on %s", dst, node)
	return nil
}

// UninstallCron removes every cron.d file on node that carries c.Prefix.
func (i *Installer) UninstallCron(ctx context.Context, node topology.Node, c Cron) error {
	if c.Prefix == "" {
		return errors.New("cron prefix is empty")
	}
	cmd := "rm -f " + shell.Quote(c.Dir) + "/" + shell.Quote(c.Prefix) + "*"
	if _, err := i.Remote.Run(ctx, node, cmd); err != nil {
		return fmt.Errorf("failed to remove cron files on %s: %w", node, err)
	}
	return nil
}

// Sync installs the standby targets only. It is a no-op without a standby RP.
func (i *Installer) Sync(ctx context.Context, targets []Target) error {
	var standby []Target
	for _, t := range targets {
		if t.Node.Role == topology.RoleStandby {
			standby = append(standby, t)
		}
	}
	return i.InstallAll(ctx, standby)
}
