// Package ledger keeps a local history of audit runs: dumps written, bundles
// merged and sent, and installer actions.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kinds of recorded runs.
const (
	KindDump      = "dump"
	KindMerge     = "merge"
	KindTransfer  = "transfer"
	KindInstall   = "install"
	KindUninstall = "uninstall"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const schema = `CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	domain TEXT,
	kind TEXT,
	path TEXT,
	status TEXT,
	detail TEXT,
	started INTEGER,
	finished INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);`

// Run is one recorded operation.
type Run struct {
	ID       string
	Domain   string
	Kind     string
	Path     string
	Status   string
	Detail   string
	Started  time.Time
	Finished time.Time
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Ledger is a sqlite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores r, assigning an ID when it has none, and returns the ID.
func (l *Ledger) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Finished.IsZero() {
		r.Finished = time.Now()
	}
	if r.Started.IsZero() {
		r.Started = r.Finished
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs(id, domain, kind, path, status, detail, started, finished) VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Domain, r.Kind, r.Path, r.Status, r.Detail, r.Started.UnixMilli(), r.Finished.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return r.ID, nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, domain, kind, path, status, detail, started, finished FROM runs ORDER BY started DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Domain, &r.Kind, &r.Path, &r.Status, &r.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		r.Started = time.UnixMilli(started)
		r.Finished = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many went.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM runs WHERE started < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
