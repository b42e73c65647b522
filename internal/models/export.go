package models

import (
	"errors"
	"time"
)

// ExportStatus classifies the outcome of one export attempt
type ExportStatus string

const (
	// ExportOK means a CSV export was archived
	ExportOK ExportStatus = "ok"
	// ExportHTML means the portal answered with an HTML page instead of CSV
	ExportHTML ExportStatus = "html"
	// ExportError means a transport failure was archived as an error artifact
	ExportError ExportStatus = "error"
	// ExportSkipped means no export was attempted (no accuracy, unsafe path)
	ExportSkipped ExportStatus = "skipped"
)

// Valid reports whether s is a known status
func (s ExportStatus) Valid() bool {
	switch s {
	case ExportOK, ExportHTML, ExportError, ExportSkipped:
		return true
	}
	return false
}

// ExportResult records one attempt to retrieve a (station, substance, period) export
type ExportResult struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Station   string       `json:"station"`
	Substance string       `json:"substance"`
	Period    Period       `json:"period"`
	Accuracy  string       `json:"accuracy,omitempty"`
	Status    ExportStatus `json:"status"`
	Path      string       `json:"path,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate checks that all export result fields are valid
func (r *ExportResult) Validate() error {
	if r.ID == "" {
		return errors.New("export ID must not be empty")
	}
	if r.RunID == "" {
		return errors.New("run ID must not be empty")
	}
	if r.Station == "" {
		return errors.New("station must not be empty")
	}
	if !r.Status.Valid() {
		return errors.New("status must be one of ok, html, error, skipped")
	}
	if err := r.Period.Validate(); err != nil {
		return err
	}
	if r.Status == ExportError && r.Error == "" {
		return errors.New("error exports must carry an error message")
	}
	return nil
}

// ConversionResult records one consolidation of a raw month directory
type ConversionResult struct {
	RunID        string    `json:"run_id"`
	SourceDir    string    `json:"source_dir"`
	OutputDir    string    `json:"output_dir"`
	FilesRead    int       `json:"files_read"`
	Stations     int       `json:"stations"`
	FilesWritten int       `json:"files_written"`
	FilesSkipped int       `json:"files_skipped"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunSummary aggregates a complete run for logging and notification
type RunSummary struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Periods     []Period             `json:"periods"`
	Exports     map[ExportStatus]int `json:"exports"`
	Conversions []ConversionResult   `json:"conversions"`
	Err         string               `json:"error,omitempty"`
}

// NewRunSummary creates an empty summary
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: startedAt,
		Exports:   make(map[ExportStatus]int),
	}
}

// AddExport counts one export result
func (s *RunSummary) AddExport(r ExportResult) {
	s.Exports[r.Status]++
}

// TotalExports returns the number of attempts across all statuses
func (s *RunSummary) TotalExports() int {
	total := 0
	for _, n := range s.Exports {
		total += n
	}
	return total
}

// Failed reports whether the run aborted or produced error artifacts
func (s *RunSummary) Failed() bool {
	return s.Err != "" || s.Exports[ExportError] > 0
}
