package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CLI runs XR exec commands.
type CLI interface {
	Exec(ctx context.Context, cli string) ([]string, error)
}

// RootLRUser returns the first configured username in group root-lr. The
// admin bridge authenticates as this user.
func RootLRUser(ctx context.Context, cli CLI) (string, error) {
	lines, err := cli.Exec(ctx, "show running-config username")
	if err != nil {
		return "", fmt.Errorf("failed to read username configuration: %w", err)
	}
	current := ""
	for _, line := range lines {
		fields := strings.Fields(line)
		switch {
		case len(fields) >= 2 && fields[0] == "username":
			current = fields[1]
		case len(fields) == 1 && fields[0] == "!":
			current = ""
		case len(fields) >= 2 && fields[0] == "group" && fields[1] == "root-lr" && current != "":
			return current, nil
		}
	}
	return "", errors.New("no user in group root-lr")
}
