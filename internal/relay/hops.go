package relay

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/akshshar/xr-auditor/internal/shell"
	"github.com/akshshar/xr-auditor/internal/topology"
)

// HopKind is the mechanism used to enter the next shell.
type HopKind int

const (
	// HopSSH runs the inner command over ssh as root.
	HopSSH HopKind = iota
	// HopBridge feeds the inner command to the admin exec CLI as "run <cmd>".
	HopBridge
)

// Hop is one step from a shell into the next.
type Hop struct {
	Kind  HopKind
	Addr  string // HopSSH target
	Netns string // HopSSH: namespace to dial from, empty for the current one
	User  string // HopBridge: root-lr user the admin CLI authenticates as
}

func (h Hop) String() string {
	if h.Kind == HopBridge {
		return "admin-bridge"
	}
	return "ssh:" + h.Addr
}

// Wrap returns the command that, run in the shell before h, runs inner in
// the shell after h.
func (h Hop) Wrap(inner string) string {
	switch h.Kind {
	case HopBridge:
		return "export AAA_USER=" + shell.Quote(h.User) +
			" && source " + shell.ZTPHelper +
			" && printf '%s\\n' " + shell.Quote("run "+inner) + " | xrcmd admin"
	default:
		cmd := "ssh root@" + h.Addr + " " + shell.Quote(inner)
		if h.Netns != "" {
			cmd = shell.Netns(h.Netns, cmd)
		}
		return cmd
	}
}

// Compose folds hops around inner, innermost hop last.
func Compose(hops []Hop, inner string) string {
	cmd := inner
	for i := len(hops) - 1; i >= 0; i-- {
		cmd = hops[i].Wrap(cmd)
	}
	return cmd
}

// hopSpec names the hop kind and the node whose address the hop dials.
type hopSpec struct {
	kind   HopKind
	target topology.Node
}

// routes is the relay routing table. Every bridged route starts in the
// active admin container because that is the only one XR's admin CLI reaches.
var routes = map[topology.Node][]hopSpec{
	topology.XRActive:  {},
	topology.XRStandby: {{HopSSH, topology.XRStandby}},
	topology.AdminActive: {
		{HopBridge, topology.AdminActive},
	},
	topology.HostActive: {
		{HopBridge, topology.AdminActive},
		{HopSSH, topology.HostActive},
	},
	topology.AdminStandby: {
		{HopBridge, topology.AdminActive},
		{HopSSH, topology.AdminStandby},
	},
	topology.HostStandby: {
		{HopBridge, topology.AdminActive},
		{HopSSH, topology.AdminStandby},
		{HopSSH, topology.HostStandby},
	},
}

// Route returns the hop list reaching node under topo.
func Route(topo topology.Topology, node topology.Node, user string) ([]Hop, error) {
	specs, ok := routes[node]
	if !ok {
		return nil, fmt.Errorf("no route to %s", node)
	}
	if !topo.Available(node) {
		return nil, ErrNotApplicable
	}
	hops := make([]Hop, 0, len(specs))
	for i, s := range specs {
		switch s.kind {
		case HopBridge:
			if user == "" {
				return nil, fmt.Errorf("route to %s: root-lr user is not known", node)
			}
			hops = append(hops, Hop{Kind: HopBridge, User: user})
		case HopSSH:
			addr := topo.Address(s.target)
			if addr == "" {
				return nil, fmt.Errorf("route to %s: no address for %s", node, s.target)
			}
			h := Hop{Kind: HopSSH, Addr: addr}
			if i == 0 {
				h.Netns = shell.XRNamespace
			}
			hops = append(hops, h)
		}
	}
	return hops, nil
}

func bridged(hops []Hop) bool {
	return len(hops) > 0 && hops[0].Kind == HopBridge
}

// Output framing for bridged commands. The admin CLI echoes its input and
// prints banners, and always exits zero, so the innermost shell prints
// explicit markers around the command's output and its exit status.
const (
	beginMarker      = "__AUDIT_BEGIN__"
	statusMarker     = "__AUDIT_RC__"
	adminSyntaxError = "syntax error: expecting"
)

var (
	statusLine  = regexp.MustCompile(`^` + statusMarker + `(\d+)$`)
	errNoStatus = errors.New("no exit status from remote shell")
)

func frame(command string) string {
	return "echo " + beginMarker + "; " + command + "; echo " + statusMarker + "$?"
}

// unframe extracts the framed output and exit status from bridged output.
func unframe(lines []string) ([]string, int, error) {
	for _, line := range lines {
		if strings.Contains(line, adminSyntaxError) {
			return lines, -1, fmt.Errorf("admin cli rejected command: %s", line)
		}
	}
	begin := -1
	for i, line := range lines {
		if line == beginMarker {
			begin = i
			break
		}
	}
	if begin < 0 {
		return lines, -1, errNoStatus
	}
	for i := begin + 1; i < len(lines); i++ {
		if m := statusLine.FindStringSubmatch(lines[i]); m != nil {
			rc, _ := strconv.Atoi(m[1])
			return lines[begin+1 : i], rc, nil
		}
	}
	return lines[begin+1:], -1, errNoStatus
}
