// Package merge combines the per-domain dumps into one compliance bundle.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/akshshar/xr-auditor/internal/audit"
	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/dump"
)

// Defaults for waiting on a domain's dump.
const (
	DefaultWaitCount    = 5
	DefaultWaitInterval = 5 * time.Second
)

// FilePrefix starts every merged bundle's file name.
const FilePrefix = "compliance_audit"

// InvalidSuffix is appended to a merged bundle that failed validation.
const InvalidSuffix = ".invalid"

var errNotYet = errors.New("file does not exist yet")

// MergeError reports a domain whose dump never appeared or could not be used.
type MergeError struct {
	Domain string
	Path   string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s (%s): %v", e.Domain, e.Path, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Source is one domain's dump.
type Source struct {
	Domain string
	Path   string
}

// Sources returns the dump locations for every known domain in declared
// order. Directories keyed by any other name are ignored.
func Sources(dirs map[string]string) []Source {
	out := make([]Source, 0, len(audit.Domains))
	for _, d := range audit.Domains {
		dir, ok := dirs[d]
		if !ok {
			continue
		}
		out = append(out, Source{Domain: d, Path: filepath.Join(dir, audit.FileName(d))})
	}
	return out
}

// Merger waits for and combines per-domain dumps.
type Merger struct {
	WaitCount    int
	WaitInterval time.Duration
	Primary      string // domain supplying GENERAL and the envelope
}

// New returns a Merger with the default primary domain.
func New(count int, interval time.Duration) *Merger {
	return &Merger{WaitCount: count, WaitInterval: interval, Primary: audit.PrimaryDomain}
}

// Merge reads every source in order and returns the combined document. Each
// record keeps its source's position; the primary document also supplies
// GENERAL and the envelope attributes. Any missing or unusable source fails
// the whole merge.
func (m *Merger) Merge(ctx context.Context, sources []Source) (audit.Document, error) {
	merged := audit.Document{Version: audit.SchemaVersion, SchemaLocation: audit.SchemaLocation}
	primary := m.Primary
	if primary == "" {
		primary = audit.PrimaryDomain
	}

	for _, src := range sources {
		if src.Domain == "" {
			return audit.Document{}, &MergeError{Path: src.Path, Err: errors.New("source has no domain")}
		}
		doc, err := m.read(ctx, src)
		if err != nil {
			log.Printf("[ERROR] %v", err)
			return audit.Document{}, err
		}
		rec, ok := doc.Record(src.Domain)
		if !ok {
			err := &MergeError{Domain: src.Domain, Path: src.Path, Err: errors.New("no integrity record for domain")}
			log.Printf("[ERROR] %v", err)
			return audit.Document{}, err
		}
		merged.IntegritySet.Records = append(merged.IntegritySet.Records, rec)

		if src.Domain == primary {
			merged.General = doc.General
			if doc.Version != "" {
				merged.Version = doc.Version
			}
			if doc.SchemaLocation != "" {
				merged.SchemaLocation = doc.SchemaLocation
			}
		}
		log.Printf("[INFO] Merged %s from %s", src.Domain, src.Path)
	}
	return merged, nil
}

func (m *Merger) read(ctx context.Context, src Source) (audit.Document, error) {
	count := m.WaitCount
	if count < 1 {
		count = DefaultWaitCount
	}
	attempt := 0
	err := retry.Do(func() error {
		attempt++
		if _, err := os.Stat(src.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Printf("[INFO] Waiting for %s (attempt %d/%d)", src.Path, attempt, count)
				return errNotYet
			}
			return retry.Unrecoverable(err)
		}
		return nil
	},
		retry.Attempts(uint(count)),
		retry.Delay(m.WaitInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return audit.Document{}, &MergeError{Domain: src.Domain, Path: src.Path, Err: fmt.Errorf("not available after %d attempts: %w", attempt, err)}
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return audit.Document{}, &MergeError{Domain: src.Domain, Path: src.Path, Err: err}
	}
	doc, err := dump.Parse(data)
	if err != nil {
		return audit.Document{}, &MergeError{Domain: src.Domain, Path: src.Path, Err: err}
	}
	return doc, nil
}

// FileName returns the bundle file name for params, taking values from the
// merged document's GENERAL block. The IP is reported with dots replaced by
// underscores and without its prefix length.
func FileName(params []string, general *audit.General) (string, error) {
	var b strings.Builder
	b.WriteString(FilePrefix)
	for _, p := range params {
		var value string
		switch p {
		case config.ParamHostname:
			value, _ = general.Get("HOST")
		case config.ParamIP, config.ParamMgmtIP:
			ip, _ := general.Get("IPADDR")
			ip, _, _ = strings.Cut(ip, "/")
			value = strings.ReplaceAll(ip, ".", "_")
		default:
			return "", fmt.Errorf("unsupported compliance file name parameter %q", p)
		}
		b.WriteString("_")
		b.WriteString(value)
	}
	b.WriteString(".xml")
	return b.String(), nil
}
