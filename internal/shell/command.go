package shell

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform locations on IOS-XR.
const (
	XRNamespace = "xrnns"
	ZTPHelper   = "/pkg/bin/ztp_helper.sh"
)

// Quote returns s as a single bash word. Words made only of characters bash
// never interprets are returned unchanged.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') &&
			!strings.ContainsRune("_@%+=:,./-", r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Netns prefixes command with a network namespace switch.
func Netns(ns, command string) string {
	return "ip netns exec " + ns + " " + command
}

// XRCommand returns the bash line that runs an XR CLI exec command.
func XRCommand(cli string) string {
	return "source " + ZTPHelper + " && xrcmd " + Quote(cli)
}

// XR runs XR CLI exec commands through the ZTP helper.
type XR struct {
	Runner  Runner
	Timeout time.Duration
}

// Exec runs cli and returns its non-empty output lines.
func (x *XR) Exec(ctx context.Context, cli string) ([]string, error) {
	res := x.Runner.Run(ctx, XRCommand(cli), x.Timeout)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("xr cli %q failed: %w", cli, err)
	}
	return res.Lines(), nil
}

// Bash runs a bash line and returns its trimmed stdout.
func Bash(ctx context.Context, r Runner, command string, timeout time.Duration) (string, error) {
	res := r.Run(ctx, command, timeout)
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("%s failed: %w", command, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}
