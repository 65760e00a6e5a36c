// Package relay runs commands and copies files in any of the router's six
// execution contexts from the active XR container, relaying through the
// intermediate shells named by a routing table.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// StagingDir holds relay temp files in intermediate shells.
const StagingDir = "/misc/scratch"

const timestampLayout = "2006-01-02_15-04-05.000000"

// cleanupTimeout bounds removal of staging files, which still runs after the
// operation's context is done.
const cleanupTimeout = 30 * time.Second

// Direction of a copy relative to the active XR container.
type Direction int

const (
	// To copies a local file to the node.
	To Direction = iota
	// From copies a file on the node to a local path.
	From
)

func (d Direction) String() string {
	if d == From {
		return "from"
	}
	return "to"
}

// Executor is the single entry point for work in other contexts.
type Executor struct {
	Topology topology.Topology
	Shell    shell.Runner
	User     string        // root-lr user for the admin bridge
	Timeout  time.Duration // per shell invocation, 0 for none
	Debug    bool

	now func() time.Time
}

// New returns an Executor for topo.
func New(topo topology.Topology, runner shell.Runner, user string, timeout time.Duration) *Executor {
	return &Executor{Topology: topo, Shell: runner, User: user, Timeout: timeout}
}

func (e *Executor) timestamp() string {
	if e.now != nil {
		return e.now().Format(timestampLayout)
	}
	return time.Now().Format(timestampLayout)
}

// Run executes command in node.
func (e *Executor) Run(ctx context.Context, node topology.Node, command string) (Result, error) {
	hops, err := Route(e.Topology, node, e.User)
	if err != nil {
		return e.fail(node, "run", -1, nil, err)
	}
	out, err := e.exec(ctx, hops, command)
	if err != nil {
		return e.fail(node, "run", len(hops)-1, out, err)
	}
	return success(out), nil
}

// Copy moves a file between the active XR container and node.
func (e *Executor) Copy(ctx context.Context, node topology.Node, dir Direction, localPath, remotePath string) (Result, error) {
	op := "copy-" + dir.String()
	hops, err := Route(e.Topology, node, e.User)
	if err != nil {
		return e.fail(node, op, -1, nil, err)
	}

	if e.Debug {
		log.Printf("[DEBUG] %s %s: local=%s remote=%s via %v", op, node, localPath, remotePath, hops)
	}

	switch {
	case len(hops) == 0:
		src, dst := localPath, remotePath
		if dir == From {
			src, dst = remotePath, localPath
		}
		if err := copyLocal(src, dst); err != nil {
			return e.fail(node, op, -1, nil, err)
		}
		return success(nil), nil
	case !bridged(hops):
		return e.copyDirect(ctx, node, dir, hops, localPath, remotePath)
	default:
		return e.copyStaged(ctx, node, dir, hops, localPath, remotePath)
	}
}

// copyDirect copies over a single ssh hop with scp from the same namespace.
func (e *Executor) copyDirect(ctx context.Context, node topology.Node, dir Direction, hops []Hop, localPath, remotePath string) (Result, error) {
	h := hops[0]
	remote := shell.Quote("root@" + h.Addr + ":" + remotePath)
	cmd := "scp " + shell.Quote(localPath) + " " + remote
	if dir == From {
		cmd = "scp " + remote + " " + shell.Quote(localPath)
	}
	if h.Netns != "" {
		cmd = shell.Netns(h.Netns, cmd)
	}
	if _, err := e.exec(ctx, nil, cmd); err != nil {
		return e.fail(node, "copy-"+dir.String(), 0, nil, err)
	}
	return success(nil), nil
}

type stage struct {
	shell int // index of the shell holding the file
	path  string
}

// copyStaged relays a file through every shell on a bridged route. Shell k
// is the one reached by hops[:k+1]. The admin CLI cannot take piped input,
// so the bridge shell pulls from (or pushes to) XR itself, and each later
// shell receives the file into a staging path before the next transfer.
func (e *Executor) copyStaged(ctx context.Context, node topology.Node, dir Direction, hops []Hop, localPath, remotePath string) (Result, error) {
	op := "copy-" + dir.String()
	xr := e.Topology.XRAddress(topology.RoleActive)
	if xr == "" {
		return e.fail(node, op, 0, nil, errors.New("active XR address unknown"))
	}
	xrPath := func(p string) string { return shell.Quote("root@" + xr + ":" + p) }
	at := func(k int, p string) string { return shell.Quote("root@" + hops[k].Addr + ":" + p) }

	var stages []stage
	defer func() {
		if len(stages) == 0 {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		for _, s := range stages {
			if _, err := e.exec(cleanupCtx, hops[:s.shell+1], "rm -f "+shell.Quote(s.path)); err != nil {
				log.Printf("[WARN] Failed to remove staging file %s in %s: %v", s.path, hops[s.shell], err)
			}
		}
	}()

	var transcript []string
	step := func(k int, cmd string) error {
		out, err := e.exec(ctx, hops[:k+1], cmd)
		transcript = append(transcript, out...)
		if err != nil {
			return fmt.Errorf("hop %d (%s): %w", k, hops[k], err)
		}
		return nil
	}

	n := len(hops)
	base := filepath.Base(localPath)
	if dir == From {
		base = filepath.Base(remotePath)
	}
	stagePath := func(k int) string {
		tag := fmt.Sprintf("%s-%s-%d", op, strings.ToLower(node.String()), k)
		return StagingDir + "/audit_" + tag + "_" + base + "_" + e.timestamp()
	}

	if dir == To {
		prev := stagePath(0)
		if err := step(0, "scp "+xrPath(localPath)+" "+shell.Quote(prev)); err != nil {
			return e.fail(node, op, 0, transcript, err)
		}
		stages = append(stages, stage{0, prev})
		if n == 1 {
			if err := step(0, "cp "+shell.Quote(prev)+" "+shell.Quote(remotePath)); err != nil {
				return e.fail(node, op, 0, transcript, err)
			}
			return success(transcript), nil
		}
		for k := 1; k < n; k++ {
			dst := remotePath
			if k < n-1 {
				dst = stagePath(k)
			}
			if err := step(k-1, "scp "+shell.Quote(prev)+" "+at(k, dst)); err != nil {
				return e.fail(node, op, k, transcript, err)
			}
			if k < n-1 {
				stages = append(stages, stage{k, dst})
				prev = dst
			}
		}
		return success(transcript), nil
	}

	src := remotePath
	for k := n - 1; k >= 1; k-- {
		dst := stagePath(k - 1)
		if err := step(k-1, "scp "+at(k, src)+" "+shell.Quote(dst)); err != nil {
			return e.fail(node, op, k, transcript, err)
		}
		stages = append(stages, stage{k - 1, dst})
		src = dst
	}
	if err := step(0, "scp "+shell.Quote(src)+" "+xrPath(localPath)); err != nil {
		return e.fail(node, op, 0, transcript, err)
	}
	return success(transcript), nil
}

// exec runs command in the shell reached by hops and returns its output lines.
func (e *Executor) exec(ctx context.Context, hops []Hop, command string) ([]string, error) {
	if !bridged(hops) {
		res := e.Shell.Run(ctx, Compose(hops, command), e.Timeout)
		if res.TimedOut {
			return nil, res.Err()
		}
		lines := res.Lines()
		if err := res.Err(); err != nil {
			return append(lines, shell.SplitLines(res.Stderr)...), err
		}
		return lines, nil
	}

	res := e.Shell.Run(ctx, Compose(hops, frame(command)), e.Timeout)
	if res.TimedOut {
		return nil, res.Err()
	}
	lines := res.Lines()
	if err := res.Err(); err != nil {
		return lines, err
	}
	out, rc, err := unframe(lines)
	if err != nil {
		return out, err
	}
	if rc != 0 {
		return out, fmt.Errorf("remote command exited %d", rc)
	}
	return out, nil
}

func (e *Executor) fail(node topology.Node, op string, hop int, output []string, err error) (Result, error) {
	opErr := &OperationError{Node: node, Op: op, Hop: hop, Output: output, Err: err}
	if errors.Is(err, ErrNotApplicable) {
		log.Printf("[INFO] %s on %s skipped: %v", op, node, err)
	} else {
		log.Printf("[ERROR] %v", opErr)
	}
	return Result{Status: StatusError, Output: output, Error: opErr.Error()}, opErr
}

func copyLocal(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
