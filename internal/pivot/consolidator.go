// Package pivot consolidates wide-format portal exports into one
// time-indexed table per station.
//
// An export has one column per (station, substance) pair and one row per
// timestamp. The Consolidator accumulates any number of exports and writes
// one file per station whose columns are the union of every (substance,
// unit) pair seen in the run, so all station files share a layout.
package pivot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/storage"
	"golang.org/x/net/html/charset"
)

// BlobMarker starts the header of every export in a multi-part download
const BlobMarker = "Datum Zeit"

// Column is one (substance, unit) output column
type Column struct {
	Substance string
	Unit      string
}

// ParseError reports a malformed export. Nothing of the file is merged.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// stationTable accumulates the readings of one station
type stationTable struct {
	name    string
	columns []Column                     // first-seen order
	values  map[string]map[string]string // substance -> timestamp -> value
}

func (t *stationTable) addColumn(c Column) {
	if _, ok := t.values[c.Substance]; ok {
		return
	}
	t.columns = append(t.columns, c)
	t.values[c.Substance] = make(map[string]string)
}

// Consolidator owns the station tables and the column registry of one run.
// It is not safe for concurrent use.
type Consolidator struct {
	stations map[string]*stationTable
	registry map[Column]struct{}
}

// New creates an empty Consolidator
func New() *Consolidator {
	return &Consolidator{
		stations: make(map[string]*stationTable),
		registry: make(map[Column]struct{}),
	}
}

// headerColumn is one parsed data column of an export header
type headerColumn struct {
	station string
	Column
}

// reading is one staged value
type reading struct {
	col   int
	ts    string
	value string
}

// Ingest parses one export from r. name is used in errors only.
// The export is merged only when it parses completely; a later duplicate
// timestamp overwrites an earlier value.
func (c *Consolidator) Ingest(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		line++
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	header, ok := next()
	if !ok {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		return &ParseError{File: name, Reason: "missing header"}
	}
	header = strings.TrimPrefix(header, "\ufeff")

	sep := ";"
	if len(strings.Split(header, sep)) == 1 {
		sep = ","
	}

	unitsLine, ok := next()
	if !ok {
		return &ParseError{File: name, Line: 1, Reason: "missing units row"}
	}

	labels := strings.Split(header, sep)[1:]
	for len(labels) > 0 && strings.TrimSpace(labels[len(labels)-1]) == "" {
		labels = labels[:len(labels)-1]
	}
	units := strings.Split(unitsLine, sep)
	if len(labels) == 0 {
		return &ParseError{File: name, Line: 1, Reason: "no data columns"}
	}
	if len(units)-1 < len(labels) {
		return &ParseError{File: name, Line: 2, Reason: fmt.Sprintf("%d units for %d columns", len(units)-1, len(labels))}
	}

	cols := make([]headerColumn, len(labels))
	for i, label := range labels {
		label = strings.TrimSpace(label)
		idx := strings.LastIndex(label, " ")
		if idx < 0 {
			return &ParseError{File: name, Line: 1, Reason: fmt.Sprintf("column %q has no station name", label)}
		}
		cols[i] = headerColumn{
			station: strings.TrimSpace(label[:idx]),
			Column: Column{
				Substance: strings.TrimSpace(label[idx+1:]),
				Unit:      strings.TrimSpace(units[i+1]),
			},
		}
		if cols[i].station == "" || cols[i].Substance == "" {
			return &ParseError{File: name, Line: 1, Reason: fmt.Sprintf("column %q has no station name", label)}
		}
	}

	var staged []reading
	for {
		text, ok := next()
		if !ok {
			break
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		fields := strings.Split(text, sep)
		if len(fields)-1 < len(cols) {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("%d values for %d columns", len(fields)-1, len(cols))}
		}
		for _, extra := range fields[len(cols)+1:] {
			if strings.TrimSpace(extra) != "" {
				return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("%d values for %d columns", len(fields)-1, len(cols))}
			}
		}

		ts, err := normalizeTimestamp(fields[0])
		if err != nil {
			return &ParseError{File: name, Line: line, Reason: fmt.Sprintf("%v: %q", err, fields[0])}
		}

		for i := range cols {
			v := normalizeValue(fields[i+1])
			if v == "" {
				continue
			}
			staged = append(staged, reading{col: i, ts: ts, value: v})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	c.commit(cols, staged)
	logger.Debug("Ingested %s: %d columns, %d values", name, len(cols), len(staged))
	return nil
}

func (c *Consolidator) commit(cols []headerColumn, staged []reading) {
	tables := make([]*stationTable, len(cols))
	for i, hc := range cols {
		t, ok := c.stations[hc.station]
		if !ok {
			t = &stationTable{name: hc.station, values: make(map[string]map[string]string)}
			c.stations[hc.station] = t
		}
		t.addColumn(hc.Column)
		tables[i] = t
	}
	// only columns carrying a value widen the canonical layout
	for _, r := range staged {
		c.registry[cols[r.col].Column] = struct{}{}
		tables[r.col].values[cols[r.col].Substance][r.ts] = r.value
	}
}

// IngestBlob splits a manual download holding several concatenated
// exports on BlobMarker and ingests every non-blank part.
func (c *Consolidator) IngestBlob(data, name string) error {
	parts := strings.Split(data, BlobMarker)
	n := 0
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		n++
		if err := c.Ingest(strings.NewReader(part), fmt.Sprintf("%s#%d", name, n)); err != nil {
			return err
		}
	}
	if n == 0 {
		return &ParseError{File: name, Reason: "no exports found"}
	}
	return nil
}

// readText reads path as UTF-8, falling back to ISO-8859-1 for files
// saved straight from the portal.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	r, err := charset.NewReaderLabel("iso-8859-1", strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// IngestFile ingests one export file
func (c *Consolidator) IngestFile(path string) error {
	text, err := readText(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.Ingest(strings.NewReader(text), path)
}

// IngestBlobFile ingests a multi-part download from disk
func (c *Consolidator) IngestBlobFile(path string) error {
	text, err := readText(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.IngestBlob(text, path)
}

// IngestStats counts the files seen by IngestDir
type IngestStats struct {
	FilesRead   int
	FilesFailed int
}

// IngestDir ingests every *.csv file in dir. A malformed file is logged
// and left out; the others are still merged.
func (c *Consolidator) IngestDir(dir string) (IngestStats, error) {
	var stats IngestStats
	files, err := storage.ListFiles(dir, ".csv")
	if err != nil {
		return stats, err
	}
	for _, f := range files {
		if err := c.IngestFile(f); err != nil {
			logger.Warn("Skipping %s: %v", filepath.Base(f), err)
			stats.FilesFailed++
			continue
		}
		stats.FilesRead++
	}
	return stats, nil
}

// Stations returns the known station names, sorted
func (c *Consolidator) Stations() []string {
	names := make([]string, 0, len(c.stations))
	for name := range c.stations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StationColumns returns the columns of one station in first-seen order
func (c *Consolidator) StationColumns(station string) []Column {
	t, ok := c.stations[station]
	if !ok {
		return nil
	}
	return append([]Column(nil), t.columns...)
}

// Value returns the stored reading for station, substance and timestamp
func (c *Consolidator) Value(station, substance, ts string) (string, bool) {
	t, ok := c.stations[station]
	if !ok {
		return "", false
	}
	v, ok := t.values[substance][ts]
	return v, ok
}

// Columns returns the canonical column set, sorted by substance then unit
func (c *Consolidator) Columns() []Column {
	cols := make([]Column, 0, len(c.registry))
	for col := range c.registry {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].Substance != cols[j].Substance {
			return cols[i].Substance < cols[j].Substance
		}
		return cols[i].Unit < cols[j].Unit
	})
	return cols
}

// Timestamps returns every timestamp with a reading for station, ascending.
// The canonical zero-padded form makes string order chronological.
func (c *Consolidator) Timestamps(station string) []string {
	t, ok := c.stations[station]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	for _, byTime := range t.values {
		for ts := range byTime {
			seen[ts] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Strings(out)
	return out
}
