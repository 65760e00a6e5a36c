// Package collector gathers the evidence that goes into a compliance dump:
// integrity records for audited directories and files, and the general
// system facts reported by the primary domain.
package collector

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec // md5sum compatible
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/shell"
)

// NamePlaceholder in a command template is replaced by the item name.
const NamePlaceholder = "{NAME}"

// Runner runs a bash line in the audited context and returns its output.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// FileHasher is implemented by runners that can hash files in-process.
type FileHasher interface {
	HashFile(ctx context.Context, path string) (string, error)
}

// FileReader is implemented by runners that can read files in-process.
type FileReader interface {
	ReadLines(ctx context.Context, path string) ([]string, error)
}

// CollectionError reports evidence that could not be gathered for an item.
type CollectionError struct {
	Item  string
	Field string
	Err   error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("failed to collect %s for %s: %v", e.Field, e.Item, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Collect gathers the integrity record for domain. Items and their commands
// keep the order of spec. Failures are logged and recorded as empty evidence.
func Collect(ctx context.Context, spec *config.Spec, domain string, runner Runner) audit.Integrity {
	rec := audit.Integrity{Domain: domain}
	if spec == nil {
		return rec
	}
	for _, item := range spec.Dirs {
		item.Kind = config.KindDir
		rec.Directories.Items = append(rec.Directories.Items, audit.Directory{
			Name:    item.Name,
			CmdList: runCommands(ctx, runner, item),
		})
	}
	for _, item := range spec.Files {
		item.Kind = config.KindFile
		f := audit.File{
			Name:    item.Name,
			CmdList: runCommands(ctx, runner, item),
		}
		if item.Content {
			lines, err := readLines(ctx, runner, item.Name)
			if err != nil {
				logCollectionError(&CollectionError{Item: item.Name, Field: "content", Err: err})
				lines = nil
			}
			content := audit.Content(lines)
			if content == nil {
				content = audit.Content{}
			}
			f.Content = &content
			f.ContentOK = err == nil
		}
		if item.Checksum {
			sum, err := checksum(ctx, runner, item.Name)
			if err != nil {
				logCollectionError(&CollectionError{Item: item.Name, Field: "checksum", Err: err})
				sum = ""
			}
			f.Checksum = &sum
			f.ChecksumOK = err == nil
		}
		rec.Files.Items = append(rec.Files.Items, f)
	}
	return rec
}

// Expand returns the bash line for a command template applied to name.
func Expand(template, name string) string {
	if strings.Contains(template, NamePlaceholder) {
		return strings.ReplaceAll(template, NamePlaceholder, shell.Quote(name))
	}
	return template + " " + shell.Quote(name)
}

func runCommands(ctx context.Context, runner Runner, item config.Item) audit.CmdList {
	var list audit.CmdList
	for _, tmpl := range item.CommandList() {
		out, err := runner.Run(ctx, Expand(tmpl, item.Name))
		if err != nil {
			logCollectionError(&CollectionError{Item: item.Name, Field: fmt.Sprintf("command %q", tmpl), Err: err})
			out = ""
		}
		list.Commands = append(list.Commands, audit.CommandResult{Request: tmpl, Response: out})
	}
	return list
}

func checksum(ctx context.Context, runner Runner, path string) (string, error) {
	if h, ok := runner.(FileHasher); ok {
		return h.HashFile(ctx, path)
	}
	out, err := runner.Run(ctx, "md5sum "+shell.Quote(path))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", errors.New("md5sum printed nothing")
	}
	return fields[0], nil
}

func readLines(ctx context.Context, runner Runner, path string) ([]string, error) {
	if r, ok := runner.(FileReader); ok {
		return r.ReadLines(ctx, path)
	}
	out, err := runner.Run(ctx, "cat "+shell.Quote(path))
	if err != nil {
		return nil, err
	}
	return contentLines(strings.NewReader(out))
}

// contentLines returns the stripped, non-empty lines of r.
func contentLines(r io.Reader) ([]string, error) {
	lines := []string{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func logCollectionError(err *CollectionError) {
	log.Printf("[WARN] %v", err)
}

// LocalRunner runs commands in the current context and reads files directly.
type LocalRunner struct {
	Shell   shell.Runner
	Timeout time.Duration
}

// Run implements Runner.
func (l *LocalRunner) Run(ctx context.Context, command string) (string, error) {
	return shell.Bash(ctx, l.Shell, command, l.Timeout)
}

// HashFile implements FileHasher.
func (l *LocalRunner) HashFile(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // md5sum compatible
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadLines implements FileReader.
func (l *LocalRunner) ReadLines(_ context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return contentLines(f)
}
