// Package topology identifies the six execution contexts of an IOS-XR router
// and the addresses used to reach them.
package topology

import (
	"fmt"
	"strings"
)

// Kind is the type of execution context.
type Kind string

// Context kinds.
const (
	KindXR    Kind = "XR"
	KindAdmin Kind = "ADMIN"
	KindHost  Kind = "HOST"
)

// Role is the redundancy role of the route processor a context lives on.
// Active is the RP this process runs on; standby is its peer.
type Role string

// Roles.
const (
	RoleActive  Role = "ACTIVE"
	RoleStandby Role = "STANDBY"
)

// HostIP is the host shell's address as seen from its admin container.
const HostIP = "10.0.2.16"

// adminOctet replaces the last octet of an XR address to reach its admin container.
const adminOctet = "1"

// Node is one execution context.
type Node struct {
	Kind Kind
	Role Role
}

// The six execution contexts.
var (
	XRActive     = Node{KindXR, RoleActive}
	XRStandby    = Node{KindXR, RoleStandby}
	AdminActive  = Node{KindAdmin, RoleActive}
	AdminStandby = Node{KindAdmin, RoleStandby}
	HostActive   = Node{KindHost, RoleActive}
	HostStandby  = Node{KindHost, RoleStandby}
)

// Nodes lists every context, active side first.
var Nodes = []Node{XRActive, AdminActive, HostActive, XRStandby, AdminStandby, HostStandby}

func (n Node) String() string {
	return string(n.Kind) + "-" + string(n.Role)
}

// Standby reports whether n lives on the peer RP.
func (n Node) Standby() bool {
	return n.Role == RoleStandby
}

// ParseNode parses names such as "HOST-STANDBY".
func ParseNode(s string) (Node, error) {
	for _, n := range Nodes {
		if strings.EqualFold(n.String(), s) {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("unknown node %q", s)
}

// AdminIP derives the admin container address from an XR address.
func AdminIP(xrIP string) string {
	i := strings.LastIndexByte(xrIP, '.')
	if i < 0 {
		return ""
	}
	return xrIP[:i+1] + adminOctet
}

// HAState is the redundancy state of the router.
type HAState struct {
	Present bool // Two RPs are installed
	Active  bool // This process runs on the active RP
}

// Topology is the resolved view of the router for one process run. It is
// immutable; build a new one to re-resolve.
type Topology struct {
	ha        HAState
	activeXR  string
	standbyXR string
}

// New returns a topology. standbyXR is ignored when ha.Present is false.
func New(ha HAState, activeXR, standbyXR string) Topology {
	if !ha.Present {
		standbyXR = ""
	}
	return Topology{ha: ha, activeXR: activeXR, standbyXR: standbyXR}
}

// HA returns the redundancy state.
func (t Topology) HA() HAState {
	return t.ha
}

// XRAddress returns the XR address for role, empty if there is none.
func (t Topology) XRAddress(role Role) string {
	if role == RoleStandby {
		return t.standbyXR
	}
	return t.activeXR
}

// Available reports whether n can be reached at all.
func (t Topology) Available(n Node) bool {
	if !n.Standby() {
		return true
	}
	return t.ha.Present && t.standbyXR != ""
}

// Address returns the address used for the last hop into n, empty when n is
// unavailable.
func (t Topology) Address(n Node) string {
	if !t.Available(n) {
		return ""
	}
	xr := t.XRAddress(n.Role)
	switch n.Kind {
	case KindAdmin:
		return AdminIP(xr)
	case KindHost:
		return HostIP
	default:
		return xr
	}
}

// TopologyError reports a failed platform query.
type TopologyError struct {
	Query string
	Err   error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: %s: %v", e.Query, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}
