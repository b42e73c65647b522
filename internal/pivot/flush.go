package pivot

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/storage"
)

// ManifestName is the file listing every known station, one per line
const ManifestName = "_cities.csv"

// FlushResult counts the output of one Flush
type FlushResult struct {
	Stations     int
	FilesWritten int
	FilesSkipped int
}

// Flush writes one CSV per station into outDir, sorted by station name,
// followed by the manifest of all stations. Files resolving outside the
// writer's base directory are logged and skipped; the other stations are
// still written.
func (c *Consolidator) Flush(outDir string, w *storage.FileWriter, sep rune) (FlushResult, error) {
	var res FlushResult
	if sep == 0 {
		sep = ','
	}

	cols := c.Columns()
	stations := c.Stations()

	for _, name := range stations {
		res.Stations++
		path := filepath.Join(outDir, name+".csv")

		data, err := c.render(name, cols, sep)
		if err != nil {
			return res, fmt.Errorf("failed to render %s: %w", name, err)
		}

		if err := w.WriteFile(path, data); err != nil {
			if errors.Is(err, storage.ErrUnsafePath) {
				logger.Error("Directory traversal attempt: %s (station %q)", path, name)
				res.FilesSkipped++
				continue
			}
			return res, err
		}
		res.FilesWritten++
	}

	var manifest bytes.Buffer
	for _, name := range stations {
		manifest.WriteString(name)
		manifest.WriteByte('\n')
	}
	if err := w.WriteFile(filepath.Join(outDir, ManifestName), manifest.Bytes()); err != nil {
		return res, fmt.Errorf("failed to write manifest: %w", err)
	}

	logger.Info("Wrote %d station files to %s (%d skipped)", res.FilesWritten, outDir, res.FilesSkipped)
	return res, nil
}

// render produces the consolidated table of one station
func (c *Consolidator) render(station string, cols []Column, sep rune) ([]byte, error) {
	t := c.stations[station]

	labels := []string{"Date", "Time"}
	units := []string{"yyyy-mm-dd", "hh:mm"}
	for _, col := range cols {
		labels = append(labels, col.Substance)
		units = append(units, col.Unit)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = sep

	if err := cw.Write(labels); err != nil {
		return nil, err
	}
	if err := cw.Write(units); err != nil {
		return nil, err
	}

	for _, ts := range c.Timestamps(station) {
		date, clock := splitTimestamp(ts)
		row := make([]string, 0, len(cols)+2)
		row = append(row, date, clock)
		for _, col := range cols {
			row = append(row, t.values[col.Substance][ts])
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
