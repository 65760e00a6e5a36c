// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/akshshar/xr-auditor/internal/shell"
)

// Fake records every command and answers from Responses, then Handler.
// Unmatched commands fail with exit code 127.
type Fake struct {
	Responses map[string]shell.Result
	Handler   func(command string) (shell.Result, bool)

	mu    sync.Mutex
	calls []string
}

// Run implements shell.Runner.
func (f *Fake) Run(_ context.Context, command string, _ time.Duration) shell.Result {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()

	if res, ok := f.Responses[command]; ok {
		res.Command = command
		return res
	}
	if f.Handler != nil {
		if res, ok := f.Handler(command); ok {
			res.Command = command
			return res
		}
	}
	return shell.Result{Command: command, ExitCode: 127, Stderr: "unexpected command: " + command}
}

// Calls returns the commands run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many commands contained substr.
func (f *Fake) Count(substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// OK returns a successful result with stdout.
func OK(stdout string) shell.Result {
	return shell.Result{Stdout: stdout}
}

// Fail returns a failed result with stderr.
func Fail(stderr string) shell.Result {
	return shell.Result{ExitCode: 1, Stderr: stderr}
}
