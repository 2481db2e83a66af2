// Package history keeps a record of finished bridge invocations in SQLite.
// Only metadata is stored: raw calendar text never leaves the request, the
// store keeps its byte length and the fingerprint of the config artifact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
)

const (
	maxStderrBytes = 64 * 1024

	// DefaultLimit and MaxLimit bound Recent.
	DefaultLimit = 20
	MaxLimit     = 500

	// Fixed width so that lexical order in SQLite matches time order.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrNotFound is returned by Get for an unknown invocation ID.
var ErrNotFound = errors.New("invocation not found")

// Entry is one stored invocation.
type Entry struct {
	ID                  string                 `json:"id"`
	Mode                string                 `json:"mode"`
	URLCount            int                    `json:"url_count"`
	InputBytes          int                    `json:"input_bytes"`
	Options             bridge.ResolvedOptions `json:"options"`
	ArtifactFingerprint string                 `json:"artifact_fingerprint,omitempty"`
	Status              string                 `json:"status"`
	ErrorKind           string                 `json:"error_kind,omitempty"`
	Error               string                 `json:"error,omitempty"`
	ExitCode            int                    `json:"exit_code"`
	RecordCount         int                    `json:"record_count"`
	Stderr              string                 `json:"stderr,omitempty"`
	StartedAt           time.Time              `json:"started_at"`
	CompletedAt         time.Time              `json:"completed_at"`
	DurationMS          int64                  `json:"duration_ms"`
}

// Store persists invocation reports. It implements bridge.Recorder.
type Store struct {
	db *sql.DB
}

var _ bridge.Recorder = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a finished invocation. Stderr is capped at 64 KiB.
func (s *Store) Record(ctx context.Context, r bridge.Report) error {
	if r.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}

	opts, err := json.Marshal(r.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	stderr := r.Stderr
	if len(stderr) > maxStderrBytes {
		stderr = stderr[:maxStderrBytes]
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO invocations(
  id, mode, url_count, input_bytes, options, artifact_fingerprint, status, error_kind, error,
  exit_code, record_count, stderr, started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		r.ID, string(r.Mode), r.URLCount, r.InputBytes, string(opts), nullable(r.ArtifactFingerprint),
		r.Status, nullable(string(r.ErrorKind)), nullable(r.Error),
		r.ExitCode, r.RecordCount, nullable(stderr),
		formatTime(r.StartedAt), formatTime(r.CompletedAt), r.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// Recent returns the newest invocations first. A non-positive limit means
// DefaultLimit; anything above MaxLimit is clamped.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+`
FROM invocations
ORDER BY started_at DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return entries, nil
}

// Get returns a single invocation or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
FROM invocations
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Prune deletes invocations that completed more than olderThan ago and
// returns how many were removed. A non-positive olderThan is a no-op.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return n, nil
}

const selectColumns = `
SELECT id, mode, url_count, input_bytes, options, artifact_fingerprint, status, error_kind, error,
  exit_code, record_count, stderr, started_at, completed_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                          Entry
		options                    sql.NullString
		fingerprint, kind, errText sql.NullString
		stderr                     sql.NullString
		startedAt, completedAt     string
	)
	if err := row.Scan(
		&e.ID, &e.Mode, &e.URLCount, &e.InputBytes, &options, &fingerprint, &e.Status, &kind, &errText,
		&e.ExitCode, &e.RecordCount, &stderr, &startedAt, &completedAt, &e.DurationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan invocation: %w", err)
	}

	e.ArtifactFingerprint = fingerprint.String
	e.ErrorKind = kind.String
	e.Error = errText.String
	e.Stderr = stderr.String

	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &e.Options); err != nil {
			return nil, fmt.Errorf("decode options for %s: %w", e.ID, err)
		}
	}
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(timeLayout, completedAt); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
