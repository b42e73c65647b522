// Package importer walks the portal over every station, substance and
// period and archives each export under
//
//	<raw>/<YYYY>/<MM>/<station>,<substance>.<ext>
//
// where ext is csv for a data export, html when the portal answered with a
// page instead, and err when the request failed. A failed export never
// stops the walk; only a change in the portal's form does.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"github.com/rewired-gh/luftonline/internal/portal"
	"github.com/rewired-gh/luftonline/internal/storage"
)

// Session is the subset of the portal client the importer drives
type Session interface {
	EnumerateStations(ctx context.Context) ([]*models.Station, error)
	SelectStation(ctx context.Context, st *models.Station) error
	SelectSubstance(ctx context.Context, sub *models.Substance) error
	SetPeriod(ctx context.Context, p models.Period) error
	FetchExport(ctx context.Context) (string, error)
}

// Recorder persists export outcomes
type Recorder interface {
	RecordExport(ctx context.Context, r *models.ExportResult) error
}

// Options configures where and how exports are archived
type Options struct {
	RawDir    string
	Normalize bool
	Separator string
}

// Importer archives portal exports
type Importer struct {
	session  Session
	writer   *storage.FileWriter
	recorder Recorder
	opts     Options
	now      func() time.Time
}

// New creates an importer. recorder may be nil.
func New(session Session, writer *storage.FileWriter, recorder Recorder, opts Options) *Importer {
	if opts.Separator == "" {
		opts.Separator = ","
	}
	return &Importer{
		session:  session,
		writer:   writer,
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
	}
}

// Run exports every substance of every station for each period.
// Results are counted into summary when it is non-nil. The returned error
// is fatal for the pass: a portal shape change, cancellation or a failure
// to write the archive.
func (im *Importer) Run(ctx context.Context, runID string, periods []models.Period, summary *models.RunSummary) error {
	if len(periods) == 0 {
		return errors.New("no periods to import")
	}

	stations, err := im.session.EnumerateStations(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate stations: %w", err)
	}
	logger.Info("Importing %d stations for %d periods", len(stations), len(periods))

	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := im.session.SelectStation(ctx, st); err != nil {
			if fatal(ctx, err) {
				return err
			}
			logger.Warn("Skipping station %s: %v", st.Name, err)
			continue
		}

		for _, sub := range st.Substances {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := im.importSubstance(ctx, runID, sub, periods, summary); err != nil {
				return err
			}
		}
	}
	return nil
}

func (im *Importer) importSubstance(ctx context.Context, runID string, sub *models.Substance, periods []models.Period, summary *models.RunSummary) error {
	if err := im.session.SelectSubstance(ctx, sub); err != nil {
		if fatal(ctx, err) {
			return err
		}
		if errors.Is(err, portal.ErrNoAccuracy) {
			logger.Warn("No usable accuracy for %s, skipping", sub)
		} else {
			logger.Warn("Skipping substance %s: %v", sub, err)
		}
		for _, p := range periods {
			res := im.result(runID, sub, p)
			res.Status = models.ExportSkipped
			res.Error = err.Error()
			im.record(ctx, res, summary)
		}
		return nil
	}

	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := im.exportPeriod(ctx, runID, sub, p, summary); err != nil {
			return err
		}
	}
	return nil
}

// exportPeriod archives one (station, substance, period) export
func (im *Importer) exportPeriod(ctx context.Context, runID string, sub *models.Substance, p models.Period, summary *models.RunSummary) error {
	res := im.result(runID, sub, p)
	base := im.ArchivePath(sub, p)

	// the station and substance names come from the portal
	if err := im.writer.Check(base + ".csv"); err != nil {
		logger.Error("Directory traversal attempt: %s (%s)", base, sub)
		res.Status = models.ExportSkipped
		res.Error = err.Error()
		im.record(ctx, res, summary)
		return nil
	}
	if err := im.writer.EnsureDir(filepath.Dir(base)); err != nil {
		return err
	}

	body, err := im.fetch(ctx, p)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		logger.Warn("Error downloading %s for %s: %v", sub, p, err)
		res.Status = models.ExportError
		res.Error = err.Error()
		res.Path = base + ".err"
		if werr := im.writer.WriteFile(res.Path, []byte(im.trace(sub, p, err))); werr != nil {
			return fmt.Errorf("failed to write error artifact: %w", werr)
		}
		im.record(ctx, res, summary)
		return nil
	}

	res.Status = models.ExportOK
	ext := ".csv"
	if strings.HasPrefix(strings.TrimSpace(body), "<") {
		res.Status = models.ExportHTML
		ext = ".html"
		logger.Warn("Portal returned a page instead of data for %s (%s)", sub, p)
	} else if im.opts.Normalize {
		body = Normalize(body, im.opts.Separator)
	}
	res.Path = base + ext

	if err := im.writer.WriteFile(res.Path, []byte(body)); err != nil {
		return fmt.Errorf("failed to archive export: %w", err)
	}
	logger.Debug("Archived %s", res.Path)
	im.record(ctx, res, summary)
	return nil
}

// fetch sets the period and downloads the export. An empty body counts as
// a failed download.
func (im *Importer) fetch(ctx context.Context, p models.Period) (string, error) {
	if err := im.session.SetPeriod(ctx, p); err != nil {
		return "", err
	}
	body, err := im.session.FetchExport(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("empty export")
	}
	return body, nil
}

// ArchivePath returns the archive path of an export without extension
func (im *Importer) ArchivePath(sub *models.Substance, p models.Period) string {
	station := ""
	if sub.Station != nil {
		station = sub.Station.Name
	}
	return filepath.Join(im.opts.RawDir, p.YearString(), p.MonthString(), station+","+sub.Name)
}

func (im *Importer) result(runID string, sub *models.Substance, p models.Period) *models.ExportResult {
	station := ""
	if sub.Station != nil {
		station = sub.Station.Name
	}
	return &models.ExportResult{
		ID:        uuid.New().String(),
		RunID:     runID,
		Station:   station,
		Substance: sub.Name,
		Period:    p,
		Accuracy:  sub.Accuracy,
		CreatedAt: im.now(),
	}
}

func (im *Importer) record(ctx context.Context, res *models.ExportResult, summary *models.RunSummary) {
	if summary != nil {
		summary.AddExport(*res)
	}
	if im.recorder == nil {
		return
	}
	if err := im.recorder.RecordExport(ctx, res); err != nil {
		logger.Warn("Failed to record export %s/%s: %v", res.Station, res.Substance, err)
	}
}

// trace is the content of an error artifact
func (im *Importer) trace(sub *models.Substance, p models.Period, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", im.now().Format(time.RFC3339))
	fmt.Fprintf(&b, "export: %s (substance id %s)\n", sub, sub.ID)
	fmt.Fprintf(&b, "accuracy: %s\n", models.AccuracyName(sub.Accuracy))
	fmt.Fprintf(&b, "period: %s\n", p)
	fmt.Fprintf(&b, "error: %v\n", err)
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "  caused by: %v\n", e)
	}
	return b.String()
}

// fatal reports whether err must stop the pass
func fatal(ctx context.Context, err error) bool {
	return portal.IsShapeError(err) || ctx.Err() != nil
}

// Normalize strips the missing-data marker, converts decimal commas and
// replaces the portal's "; " separator with sep.
func Normalize(body, sep string) string {
	body = strings.ReplaceAll(body, "n. def.", "")
	body = strings.ReplaceAll(body, ",", ".")
	return strings.ReplaceAll(body, "; ", sep)
}
