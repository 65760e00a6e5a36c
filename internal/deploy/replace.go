// Package deploy installs and removes the audit binaries in every execution
// context without disturbing a copy that is still running.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/akshshar/xr-auditor/internal/relay"
	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// Defaults for the process-release wait.
const (
	DefaultWaitCount    = 10
	DefaultWaitInterval = 5 * time.Second
)

const timestampLayout = "2006-01-02_15-04-05"

// ErrBusy is returned when a process keeps the target open through every attempt.
var ErrBusy = errors.New("file is held open by a running process")

// Remote is the relay surface the installer drives.
type Remote interface {
	Run(ctx context.Context, node topology.Node, command string) (relay.Result, error)
	Copy(ctx context.Context, node topology.Node, dir relay.Direction, localPath, remotePath string) (relay.Result, error)
}

// Artifact is a file shipped from SrcDir on XR to AppDir on a node.
type Artifact struct {
	SrcDir string
	AppDir string
	Name   string
}

// Source returns the artifact's path on the active XR container.
func (a Artifact) Source() string {
	return path.Join(a.SrcDir, a.Name)
}

// Target returns the artifact's path on the node.
func (a Artifact) Target() string {
	return path.Join(a.AppDir, a.Name)
}

// Installer places artifacts with replace-in-place semantics.
type Installer struct {
	Remote       Remote
	WaitCount    int
	WaitInterval time.Duration
	Policy       Policy

	now func() time.Time
}

func (i *Installer) timestamp() string {
	if i.now != nil {
		return i.now().Format(timestampLayout)
	}
	return time.Now().Format(timestampLayout)
}

// Install copies a to node. An existing copy is replaced only once no
// process holds it: the new file is written beside it and renamed over it,
// so a process that opens the old inode keeps a valid handle.
func (i *Installer) Install(ctx context.Context, node topology.Node, a Artifact) error {
	if node == topology.XRActive && path.Clean(a.Source()) == path.Clean(a.Target()) {
		log.Printf("[INFO] %s already in place on %s", a.Target(), node)
		return nil
	}
	exists, err := i.exists(ctx, node, a)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := i.Remote.Copy(ctx, node, relay.To, a.Source(), a.Target()); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", a.Name, node, err)
		}
		log.Printf("[INFO] Installed %s on %s", a.Target(), node)
		return nil
	}

	target := a.Target()
	fresh := target + ".new"
	err = i.whenReleased(ctx, node, target, func() error {
		if _, err := i.Remote.Copy(ctx, node, relay.To, a.Source(), fresh); err != nil {
			return fmt.Errorf("failed to copy %s: %w", a.Name, err)
		}
		if _, err := i.Remote.Run(ctx, node, "mv -f "+shell.Quote(fresh)+" "+shell.Quote(target)); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", a.Name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace %s on %s: %w", target, node, err)
	}
	log.Printf("[INFO] Replaced %s on %s", target, node)
	return nil
}

// Uninstall removes a from node once no process holds it. The file is
// renamed before it is unlinked.
func (i *Installer) Uninstall(ctx context.Context, node topology.Node, a Artifact) error {
	exists, err := i.exists(ctx, node, a)
	if err != nil {
		return err
	}
	if !exists {
		log.Printf("[INFO] %s not present on %s", a.Target(), node)
		return nil
	}

	target := a.Target()
	err = i.whenReleased(ctx, node, target, func() error {
		doomed := shell.Quote(target + ".del." + i.timestamp())
		cmd := "mv -f " + shell.Quote(target) + " " + doomed + " && rm -f " + doomed
		if _, err := i.Remote.Run(ctx, node, cmd); err != nil {
			return fmt.Errorf("failed to remove %s: %w", a.Name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s on %s: %w", target, node, err)
	}
	log.Printf("[INFO] Removed %s from %s", target, node)
	return nil
}

func (i *Installer) exists(ctx context.Context, node topology.Node, a Artifact) (bool, error) {
	res, err := i.Remote.Run(ctx, node, "ls "+shell.Quote(a.AppDir))
	if err != nil {
		if errors.Is(err, relay.ErrNotApplicable) {
			return false, err
		}
		log.Printf("[WARN] Failed to list %s on %s, assuming %s is absent: %v", a.AppDir, node, a.Name, err)
		return false, nil
	}
	for _, line := range res.Output {
		for _, f := range strings.Fields(line) {
			if f == a.Name {
				return true, nil
			}
		}
	}
	return false, nil
}

// whenReleased polls lsof on target and runs action once nothing holds it.
// Busy checks and failed actions both consume one of WaitCount attempts.
func (i *Installer) whenReleased(ctx context.Context, node topology.Node, target string, action func() error) error {
	count := i.WaitCount
	if count < 1 {
		count = DefaultWaitCount
	}
	attempt := 0
	return retry.Do(func() error {
		attempt++
		res, err := i.Remote.Run(ctx, node, "lsof "+shell.Quote(target)+" 2>/dev/null || true")
		if err != nil {
			return fmt.Errorf("failed to check open handles: %w", err)
		}
		if len(res.Output) > 0 {
			log.Printf("[INFO] %s on %s is in use (attempt %d/%d), waiting %v", target, node, attempt, count, i.WaitInterval)
			return ErrBusy
		}
		return action()
	},
		retry.Attempts(uint(count)),
		retry.Delay(i.WaitInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
