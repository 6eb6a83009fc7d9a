package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kidoz/vmsmoke/internal/session"
)

// ErrNotFound is returned when no stored run matches.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	host        TEXT NOT NULL,
	instance_id TEXT NOT NULL DEFAULT '',
	verdict     TEXT NOT NULL,
	passed      INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_host ON runs(host, id);`

const entryColumns = `id, host, instance_id, verdict, passed, warnings, started_at, finished_at`

// Entry summarizes one stored run. Report is only populated by Get and
// the Latest lookups.
type Entry struct {
	ID         int64           `json:"id" yaml:"id"`
	Host       string          `json:"host" yaml:"host"`
	InstanceID string          `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Verdict    string          `json:"verdict" yaml:"verdict"`
	Passed     bool            `json:"passed" yaml:"passed"`
	Warnings   int             `json:"warnings" yaml:"warnings"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Report     *session.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

// Store keeps session reports in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a finished report and returns its run ID.
func (s *Store) Save(ctx context.Context, r *session.Report) (int64, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("failed to encode report: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(host, instance_id, verdict, passed, warnings, started_at, finished_at, report) VALUES(?,?,?,?,?,?,?,?)`,
		r.Host, r.InstanceID, r.Verdict(), r.OverallPassed, len(r.Warnings),
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), string(body),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save report: %w", err)
	}
	return res.LastInsertId()
}

// List returns the most recent runs, newest first. An empty host lists
// every host; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, host string, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM runs`
	var args []any
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one run with its full report.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+`, report FROM runs WHERE id = ?`, id)
	return oneEntry(row)
}

// Latest returns the newest run for host with its full report.
func (s *Store) Latest(ctx context.Context, host string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+`, report FROM runs WHERE host = ? ORDER BY id DESC LIMIT 1`, host)
	return oneEntry(row)
}

// LatestPerHost returns the newest run of every host, keyed by host.
func (s *Store) LatestPerHost(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+`, report FROM runs WHERE id IN (SELECT MAX(id) FROM runs GROUP BY host)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := make(map[string]Entry)
	for rows.Next() {
		e, err := scanEntry(rows, true)
		if err != nil {
			return nil, err
		}
		latest[e.Host] = e
	}
	return latest, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func oneEntry(row *sql.Row) (Entry, error) {
	e, err := scanEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func scanEntry(sc scanner, withReport bool) (Entry, error) {
	var (
		e                 Entry
		started, finished int64
		body              string
	)
	dest := []any{&e.ID, &e.Host, &e.InstanceID, &e.Verdict, &e.Passed, &e.Warnings, &started, &finished}
	if withReport {
		dest = append(dest, &body)
	}
	if err := sc.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to read run: %w", err)
	}
	e.StartedAt = time.UnixMilli(started)
	e.FinishedAt = time.UnixMilli(finished)

	if withReport {
		e.Report = &session.Report{}
		if err := json.Unmarshal([]byte(body), e.Report); err != nil {
			return Entry{}, fmt.Errorf("failed to decode report %d: %w", e.ID, err)
		}
	}
	return e, nil
}
