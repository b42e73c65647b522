// Package pipeline runs the import followed by the per-month conversion,
// records the run in the ledger and reports it.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/luftonline/internal/config"
	"github.com/rewired-gh/luftonline/internal/importer"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"github.com/rewired-gh/luftonline/internal/pivot"
	"github.com/rewired-gh/luftonline/internal/storage"
)

// Ledger persists runs and their outcomes
type Ledger interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time, periods []models.Period) error
	FinishRun(ctx context.Context, summary *models.RunSummary) error
	RecordExport(ctx context.Context, r *models.ExportResult) error
	RecordConversion(ctx context.Context, c *models.ConversionResult) error
}

// Notifier reports a finished run
type Notifier interface {
	Send(summary *models.RunSummary) error
}

// Options holds the paths and formats of a run
type Options struct {
	RawDir          string
	JointDir        string
	Normalize       bool
	ImportSeparator string
	OutputSeparator rune
	// NotifyOnlyOnFailure suppresses notifications for clean runs
	NotifyOnlyOnFailure bool
}

// OptionsFromConfig derives run options from the configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RawDir:              cfg.RawDir(),
		JointDir:            cfg.JointDir(),
		Normalize:           cfg.Import.Normalize,
		ImportSeparator:     cfg.Import.Separator,
		OutputSeparator:     config.SeparatorRune(cfg.Convert.Separator),
		NotifyOnlyOnFailure: cfg.Telegram.OnlyOnFailure,
	}
}

// Pipeline ties the portal session, the archive and the consolidator together
type Pipeline struct {
	session  importer.Session
	writer   *storage.FileWriter
	ledger   Ledger
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// New creates a pipeline. ledger and notifier may be nil.
func New(session importer.Session, writer *storage.FileWriter, ledger Ledger, notifier Notifier, opts Options) *Pipeline {
	return &Pipeline{
		session:  session,
		writer:   writer,
		ledger:   ledger,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// Run imports every period and, when convert is set, consolidates each
// imported month. The summary is returned even when the run failed.
func (p *Pipeline) Run(ctx context.Context, periods []models.Period, convert bool) (*models.RunSummary, error) {
	runID := uuid.New().String()
	summary := models.NewRunSummary(runID, p.now())
	summary.Periods = periods

	logger.Info("Starting run %s for %d periods", runID, len(periods))
	if p.ledger != nil {
		if err := p.ledger.BeginRun(ctx, runID, summary.StartedAt, periods); err != nil {
			return summary, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	var recorder importer.Recorder
	if p.ledger != nil {
		recorder = p.ledger
	}
	im := importer.New(p.session, p.writer, recorder, importer.Options{
		RawDir:    p.opts.RawDir,
		Normalize: p.opts.Normalize,
		Separator: p.opts.ImportSeparator,
	})

	runErr := im.Run(ctx, runID, periods, summary)
	if runErr != nil {
		logger.Error("Import failed: %v", runErr)
		summary.Err = runErr.Error()
	} else if convert {
		for _, period := range periods {
			res, err := p.Convert(ctx, runID, period)
			if err != nil {
				logger.Warn("Conversion of %s failed: %v", period, err)
				continue
			}
			summary.Conversions = append(summary.Conversions, *res)
		}
	}

	summary.FinishedAt = p.now()
	p.finish(ctx, summary)

	logger.Info("Run %s finished in %v: %d exports (%d ok, %d errors), %d conversions",
		runID, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second), summary.TotalExports(),
		summary.Exports[models.ExportOK], summary.Exports[models.ExportError], len(summary.Conversions))
	return summary, runErr
}

// Convert consolidates the raw exports of one month into the joint tree
func (p *Pipeline) Convert(ctx context.Context, runID string, period models.Period) (*models.ConversionResult, error) {
	src := filepath.Join(p.opts.RawDir, period.YearString(), period.MonthString())
	dst := filepath.Join(p.opts.JointDir, period.YearString(), period.MonthString())

	res, err := ConvertDir(src, dst, p.writer, p.opts.OutputSeparator)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.CreatedAt = p.now()

	if p.ledger != nil {
		if err := p.ledger.RecordConversion(ctx, res); err != nil {
			logger.Warn("Failed to record conversion of %s: %v", src, err)
		}
	}
	return res, nil
}

// finish closes the run in the ledger and sends the notification. It runs
// even after cancellation so an interrupted run is still recorded.
func (p *Pipeline) finish(ctx context.Context, summary *models.RunSummary) {
	ctx = context.WithoutCancel(ctx)

	if p.ledger != nil {
		if err := p.ledger.FinishRun(ctx, summary); err != nil {
			logger.Warn("Failed to record run end: %v", err)
		}
	}

	if p.notifier == nil {
		logger.Debug("Notifications disabled")
		return
	}
	if p.opts.NotifyOnlyOnFailure && !summary.Failed() {
		logger.Debug("Run succeeded, notification suppressed")
		return
	}
	if err := p.notifier.Send(summary); err != nil {
		logger.Error("Failed to send notification: %v", err)
		return
	}
	logger.Info("Sent run notification")
}

// ConvertDir consolidates every export in srcDir into dstDir
func ConvertDir(srcDir, dstDir string, w *storage.FileWriter, sep rune) (*models.ConversionResult, error) {
	c := pivot.New()
	stats, err := c.IngestDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read exports: %w", err)
	}
	if stats.FilesFailed > 0 {
		logger.Warn("%d malformed exports in %s were left out", stats.FilesFailed, srcDir)
	}
	return flush(c, srcDir, dstDir, w, sep, stats.FilesRead)
}

// ConvertBlob consolidates a multi-part download into dstDir
func ConvertBlob(path, dstDir string, w *storage.FileWriter, sep rune) (*models.ConversionResult, error) {
	c := pivot.New()
	if err := c.IngestBlobFile(path); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return flush(c, path, dstDir, w, sep, 1)
}

func flush(c *pivot.Consolidator, src, dstDir string, w *storage.FileWriter, sep rune, filesRead int) (*models.ConversionResult, error) {
	if err := w.EnsureDir(dstDir); err != nil {
		return nil, err
	}
	res, err := c.Flush(dstDir, w, sep)
	if err != nil {
		return nil, fmt.Errorf("failed to write consolidated files: %w", err)
	}
	return &models.ConversionResult{
		SourceDir:    src,
		OutputDir:    dstDir,
		FilesRead:    filesRead,
		Stations:     res.Stations,
		FilesWritten: res.FilesWritten,
		FilesSkipped: res.FilesSkipped,
		CreatedAt:    time.Now(),
	}, nil
}
