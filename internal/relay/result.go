package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akshshar/xr-auditor/internal/topology"
)

// Status of a relayed operation.
type Status string

// Statuses.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrNotApplicable is returned for standby nodes when there is no standby RP.
var ErrNotApplicable = errors.New("node not available: no standby RP")

// Result is the uniform outcome of Run and Copy.
type Result struct {
	Status Status
	Output []string
	Error  string
}

func success(output []string) Result {
	return Result{Status: StatusSuccess, Output: output}
}

// OperationError reports a failed hop of a relayed operation.
type OperationError struct {
	Node   topology.Node
	Op     string
	Hop    int // index of the failing hop, -1 before any hop ran
	Output []string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Hop < 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("%s %s: hop %d: %v", e.Op, e.Node, e.Hop, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// NodeRunner runs commands in one node.
type NodeRunner struct {
	exec *Executor
	node topology.Node
}

// Bind returns a runner bound to node.
func (e *Executor) Bind(node topology.Node) NodeRunner {
	return NodeRunner{exec: e, node: node}
}

// Node returns the bound node.
func (r NodeRunner) Node() topology.Node {
	return r.node
}

// Run executes command in the bound node and returns its output.
func (r NodeRunner) Run(ctx context.Context, command string) (string, error) {
	res, err := r.exec.Run(ctx, r.node, command)
	if err != nil {
		return "", err
	}
	return strings.Join(res.Output, "\n"), nil
}
