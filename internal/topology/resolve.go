package topology

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/akshshar/xr-auditor/internal/shell"
)

// Platform helpers run inside the XR network namespace.
const (
	nodeListCmd     = "/pkg/bin/node_list_generation"
	nodeConvertCmd  = "/pkg/bin/node_conversion"
	nodeIPByNameCmd = "/pkg/bin/admin_nodeip_from_nodename"
)

// CLI runs XR exec commands.
type CLI interface {
	Exec(ctx context.Context, cli string) ([]string, error)
}

// Resolver queries the platform to build a Topology.
type Resolver struct {
	CLI     CLI
	Shell   shell.Runner
	Timeout time.Duration
	Debug   bool
}

// Resolve queries redundancy state and XR addresses once.
func (r *Resolver) Resolve(ctx context.Context) (Topology, error) {
	ha, err := r.ResolveHAState(ctx)
	if err != nil {
		return Topology{}, err
	}
	active, err := r.ResolveXRIP(ctx, RoleActive)
	if err != nil {
		return Topology{}, err
	}
	var standby string
	if ha.Present {
		standby, err = r.ResolveXRIP(ctx, RoleStandby)
		if err != nil {
			return Topology{}, err
		}
	}
	log.Printf("[INFO] Topology: ha=%v active=%v xr=%s standby_xr=%q", ha.Present, ha.Active, active, standby)
	return New(ha, active, standby), nil
}

// ResolveHAState counts the RPs in "show platform" and determines whether
// this RP is the active one.
func (r *Resolver) ResolveHAState(ctx context.Context) (HAState, error) {
	lines, err := r.CLI.Exec(ctx, "show platform")
	if err != nil {
		return HAState{}, &TopologyError{Query: "show platform", Err: err}
	}

	rpCount := 0
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.Contains(fields[0], "/CPU") {
			continue
		}
		if strings.Contains(fields[0], "RP") {
			rpCount++
		}
	}
	switch rpCount {
	case 1:
		return HAState{Present: false, Active: true}, nil
	case 2:
	default:
		return HAState{}, &TopologyError{Query: "show platform", Err: fmt.Errorf("invalid RP count %d", rpCount)}
	}

	me, err := r.myNodeName(ctx)
	if err != nil {
		return HAState{}, err
	}
	active, err := r.activeNode(ctx)
	if err != nil {
		return HAState{}, err
	}
	if r.Debug {
		log.Printf("[DEBUG] My node %s, active node %s", me, active)
	}
	return HAState{Present: true, Active: me == active}, nil
}

// ResolveXRIP returns the XR address for role. A standby role without a
// peer yields "".
func (r *Resolver) ResolveXRIP(ctx context.Context, role Role) (string, error) {
	if role == RoleStandby {
		return r.peerXRIP(ctx)
	}

	me, err := r.myNodeName(ctx)
	if err != nil {
		return "", err
	}
	lines, err := r.CLI.Exec(ctx, "show platform vm")
	if err != nil {
		return "", &TopologyError{Query: "show platform vm", Err: err}
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == me {
			return fields[len(fields)-1], nil
		}
	}
	return "", &TopologyError{Query: "show platform vm", Err: fmt.Errorf("no entry for node %s", me)}
}

// ResolveAdminIP derives the admin address for role from its XR address.
func (r *Resolver) ResolveAdminIP(ctx context.Context, role Role) (string, error) {
	xr, err := r.ResolveXRIP(ctx, role)
	if err != nil {
		return "", err
	}
	return AdminIP(xr), nil
}

func (r *Resolver) bash(ctx context.Context, query, command string) (string, error) {
	out, err := shell.Bash(ctx, r.Shell, shell.Netns(shell.XRNamespace, command), r.Timeout)
	if err != nil {
		return "", &TopologyError{Query: query, Err: err}
	}
	return out, nil
}

// myRawNodeName returns the platform-internal name, e.g. node0_RP0_CPU0.
func (r *Resolver) myRawNodeName(ctx context.Context) (string, error) {
	raw, err := r.bash(ctx, "own node name", nodeListCmd+" -f MY")
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", &TopologyError{Query: "own node name", Err: errors.New("empty node name")}
	}
	return raw, nil
}

// myNodeName returns the CLI form of this node's name, e.g. 0/RP0/CPU0.
func (r *Resolver) myNodeName(ctx context.Context) (string, error) {
	raw, err := r.myRawNodeName(ctx)
	if err != nil {
		return "", err
	}
	name, err := r.bash(ctx, "node name conversion", nodeConvertCmd+" -N "+shell.Quote(raw))
	if err != nil {
		return "", err
	}
	return name, nil
}

// activeNode reads the active RP from "show redundancy summary".
func (r *Resolver) activeNode(ctx context.Context) (string, error) {
	lines, err := r.CLI.Exec(ctx, "show redundancy summary")
	if err != nil {
		return "", &TopologyError{Query: "show redundancy summary", Err: err}
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		node := strings.TrimSuffix(fields[0], "(A)")
		if strings.Contains(node, "/RP") && strings.Contains(node, "/CPU") {
			return node, nil
		}
	}
	return "", &TopologyError{Query: "show redundancy summary", Err: errors.New("no active node listed")}
}

// peerXRIP finds the other RP in the node list and asks the platform for
// its internal address.
func (r *Resolver) peerXRIP(ctx context.Context) (string, error) {
	me, err := r.myRawNodeName(ctx)
	if err != nil {
		return "", err
	}
	all, err := r.bash(ctx, "node list", nodeListCmd+" -f ALL")
	if err != nil {
		return "", err
	}
	for _, node := range strings.Fields(all) {
		if !strings.Contains(node, "RP") || node == me {
			continue
		}
		ip, err := r.bash(ctx, "peer RP address", nodeIPByNameCmd+" -n "+shell.Quote(node))
		if err != nil {
			return "", err
		}
		return ip, nil
	}
	log.Printf("[INFO] There is no standby RP")
	return "", nil
}
