// Package storage provides the persistence side of luftonline: a file
// writer that never leaves the configured base directory, and a SQLite
// run ledger recording every export attempt and conversion.
//
// The ledger is an audit trail only. Durability of the measurement data
// itself lives entirely in the raw and consolidated CSV files.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/luftonline/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	periods     TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT
);
CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	station    TEXT NOT NULL,
	substance  TEXT NOT NULL,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	accuracy   TEXT,
	status     TEXT NOT NULL,
	path       TEXT,
	error      TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_run ON exports(run_id);
CREATE TABLE IF NOT EXISTS conversions (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	source_dir    TEXT NOT NULL,
	output_dir    TEXT NOT NULL,
	files_read    INTEGER NOT NULL,
	stations      INTEGER NOT NULL,
	files_written INTEGER NOT NULL,
	files_skipped INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);
`

// Run statuses stored in the runs table
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Storage is the SQLite-backed run ledger
type Storage struct {
	db *sql.DB
}

// RunRecord is one row of the runs table
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Periods    []models.Period
	Status     string
	Error      string
}

// New opens (or creates) the ledger at dbPath. ":memory:" keeps it in memory.
func New(dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One connection: the run is sequential, and ":memory:" is per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a run
func (s *Storage) BeginRun(ctx context.Context, runID string, startedAt time.Time, periods []models.Period) error {
	if runID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	p, err := json.Marshal(periods)
	if err != nil {
		return fmt.Errorf("failed to marshal periods: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, periods, status) VALUES (?, ?, ?, ?)`,
		runID, formatTime(startedAt), string(p), RunRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished or failed according to its summary
func (s *Storage) FinishRun(ctx context.Context, summary *models.RunSummary) error {
	status := RunFinished
	if summary.Err != "" {
		status = RunFailed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		formatTime(summary.FinishedAt), status, nullString(summary.Err), summary.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", summary.RunID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Storage) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, periods, status, error FROM runs WHERE id = ?`, runID)

	var (
		rec                 RunRecord
		started, periods    string
		finished, errString sql.NullString
	)
	if err := row.Scan(&rec.ID, &started, &finished, &periods, &rec.Status, &errString); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished.String)
	rec.Error = errString.String
	if err := json.Unmarshal([]byte(periods), &rec.Periods); err != nil {
		return nil, fmt.Errorf("failed to unmarshal periods: %w", err)
	}
	return &rec, nil
}

// RecordExport stores one export attempt
func (s *Storage) RecordExport(ctx context.Context, r *models.ExportResult) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid export result: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (id, run_id, station, substance, year, month, accuracy, status, path, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Station, r.Substance, r.Period.Year, r.Period.Month,
		nullString(r.Accuracy), string(r.Status), nullString(r.Path), nullString(r.Error),
		formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert export: %w", err)
	}
	return nil
}

// GetExports returns the export attempts of a run in insertion order
func (s *Storage) GetExports(ctx context.Context, runID string) ([]models.ExportResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, station, substance, year, month, accuracy, status, path, error, created_at
		 FROM exports WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var results []models.ExportResult
	for rows.Next() {
		var (
			r                       models.ExportResult
			status, created         string
			accuracy, path, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Station, &r.Substance, &r.Period.Year, &r.Period.Month,
			&accuracy, &status, &path, &errText, &created); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		r.Accuracy = accuracy.String
		r.Status = models.ExportStatus(status)
		r.Path = path.String
		r.Error = errText.String
		r.CreatedAt = parseTime(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordConversion stores the outcome of one directory conversion
func (s *Storage) RecordConversion(ctx context.Context, c *models.ConversionResult) error {
	if c.RunID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (run_id, source_dir, output_dir, files_read, stations, files_written, files_skipped, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.SourceDir, c.OutputDir, c.FilesRead, c.Stations, c.FilesWritten, c.FilesSkipped,
		formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

// GetConversions returns the conversions of a run in insertion order
func (s *Storage) GetConversions(ctx context.Context, runID string) ([]models.ConversionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source_dir, output_dir, files_read, stations, files_written, files_skipped, created_at
		 FROM conversions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	var results []models.ConversionResult
	for rows.Next() {
		var (
			c       models.ConversionResult
			created string
		)
		if err := rows.Scan(&c.RunID, &c.SourceDir, &c.OutputDir, &c.FilesRead, &c.Stations,
			&c.FilesWritten, &c.FilesSkipped, &created); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		c.CreatedAt = parseTime(created)
		results = append(results, c)
	}
	return results, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
