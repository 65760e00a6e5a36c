// Package shell runs bash command lines in the local execution context and
// builds the command strings used to reach the XR CLI and network namespaces.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultMaxOutput caps captured stdout and stderr.
	DefaultMaxOutput = 1024 * 1024
	maxLogLength     = 200
)

// Result is the outcome of one command line.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Err returns nil when the command exited zero in time, otherwise an error
// carrying the exit code and stderr.
func (r Result) Err() error {
	if r.TimedOut {
		return fmt.Errorf("command timed out: %s", r.Command)
	}
	if r.ExitCode == 0 {
		return nil
	}
	stderr := strings.TrimSpace(r.Stderr)
	if len(stderr) > maxLogLength {
		stderr = stderr[:maxLogLength] + "..."
	}
	return fmt.Errorf("command exited %d: %s", r.ExitCode, stderr)
}

// Lines returns stdout split into trimmed, non-empty lines.
func (r Result) Lines() []string {
	return SplitLines(r.Stdout)
}

// SplitLines splits text into trimmed, non-empty lines.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Runner executes a bash command line. A zero timeout means no deadline
// beyond the context's own.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) Result
}

// Local runs commands with bash on this machine.
type Local struct {
	Debug     bool
	MaxOutput int
}

// Run executes command and captures stdout and stderr separately.
func (l *Local) Run(ctx context.Context, command string, timeout time.Duration) Result {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if l.Debug {
		log.Printf("[DEBUG] Executing command: %s", command)
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.WaitDelay = time.Second

	var stdoutBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	duration := time.Since(start)

	maxOutput := l.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	res := Result{
		Command: command,
		Stdout:  limitOutput(stdoutBuf.Bytes(), maxOutput),
		Stderr:  limitOutput(stderrBuf.Bytes(), maxOutput),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("[WARN] Command timed out after %v: %s", duration, command)
			res.Stderr = "Command timed out after " + duration.String()
			res.ExitCode = -1
			res.TimedOut = true
		} else {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitCode()
			} else {
				res.ExitCode = -1
				res.Stderr += fmt.Sprintf("\nCommand error: %v", err)
			}
		}
	}

	if l.Debug {
		log.Printf("[DEBUG] Command completed in %v (exit: %d, stdout: %d bytes, stderr: %d bytes): %s",
			duration, res.ExitCode, len(res.Stdout), len(res.Stderr), command)
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			if len(stderr) > maxLogLength {
				stderr = stderr[:maxLogLength] + "..."
			}
			log.Printf("[DEBUG] stderr: %s", stderr)
		}
	}

	return res
}

// limitOutput truncates output if it exceeds maxSize.
func limitOutput(data []byte, maxSize int) string {
	if len(data) > maxSize {
		return string(data[:maxSize]) + "\n[Output truncated]..."
	}
	return string(data)
}
