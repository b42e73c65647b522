package pivot

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rewired-gh/luftonline/internal/storage"
)

const leipzigExport = "Datum;Leipzig Mitte NO2;Leipzig Mitte PM10\n" +
	";µg/m³;µg/m³\n" +
	"01.01.16 00:00;12,3;n. def.\n"

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"01.01.16 00:00", "2016-01-01 00:00", false},
		{" 31.12.16 24:00 ", "2016-12-31 24:00", false},
		{"05.09.16", "2016-09-05", false},
		{"09-16", "2016-09-01", false},
		{"09-2016", "2016-09-01", false},
		{"", "", true},
		{"9-16", "", true},
		{"ab.cd.ef", "", true},
		{"01.13.16", "", true},
		{"01.01.16 0000", "", true},
		{"Datum", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIngest_Scenario(t *testing.T) {
	c := New()
	if err := c.Ingest(strings.NewReader(leipzigExport), "leipzig.csv"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if got := c.Stations(); !reflect.DeepEqual(got, []string{"Leipzig Mitte"}) {
		t.Fatalf("Unexpected stations: %v", got)
	}

	v, ok := c.Value("Leipzig Mitte", "NO2", "2016-01-01 00:00")
	if !ok || v != "12.3" {
		t.Errorf("NO2 value = %q (%v), want 12.3", v, ok)
	}
	if _, ok := c.Value("Leipzig Mitte", "PM10", "2016-01-01 00:00"); ok {
		t.Error("PM10 should have no entry for the missing reading")
	}

	// every header column yields one (station, substance, unit) triple
	want := []Column{{"NO2", "µg/m³"}, {"PM10", "µg/m³"}}
	if got := c.StationColumns("Leipzig Mitte"); !reflect.DeepEqual(got, want) {
		t.Errorf("StationColumns = %v, want %v", got, want)
	}
}

func TestIngest_MonthlyToken(t *testing.T) {
	c := New()
	data := "Datum;Leipzig Mitte NO2\n;µg/m³\n09-16;21,5\n"
	if err := c.Ingest(strings.NewReader(data), "monthly.csv"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if v, ok := c.Value("Leipzig Mitte", "NO2", "2016-09-01"); !ok || v != "21.5" {
		t.Errorf("Expected monthly value at 2016-09-01, got %q (%v)", v, ok)
	}
}

func TestIngest_CommaSeparated(t *testing.T) {
	c := New()
	data := "Datum Zeit,Dresden-Nord NO2,Dresden-Nord O3\n,µg/m³,µg/m³\n01.09.16 01:00,,40.1\n"
	if err := c.Ingest(strings.NewReader(data), "normalized.csv"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if v, _ := c.Value("Dresden-Nord", "O3", "2016-09-01 01:00"); v != "40.1" {
		t.Errorf("Expected 40.1, got %q", v)
	}
	if _, ok := c.Value("Dresden-Nord", "NO2", "2016-09-01 01:00"); ok {
		t.Error("Empty NO2 field should be skipped")
	}
}

func TestIngest_Idempotent(t *testing.T) {
	once := New()
	twice := New()
	if err := once.Ingest(strings.NewReader(leipzigExport), "a"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := twice.Ingest(strings.NewReader(leipzigExport), "a"); err != nil {
			t.Fatal(err)
		}
	}

	if !reflect.DeepEqual(once.Columns(), twice.Columns()) {
		t.Errorf("Columns differ: %v vs %v", once.Columns(), twice.Columns())
	}
	if !reflect.DeepEqual(once.StationColumns("Leipzig Mitte"), twice.StationColumns("Leipzig Mitte")) {
		t.Error("Station columns duplicated on re-ingest")
	}
	if !reflect.DeepEqual(once.Timestamps("Leipzig Mitte"), twice.Timestamps("Leipzig Mitte")) {
		t.Error("Timestamps differ on re-ingest")
	}
}

func TestIngest_LastWriteWins(t *testing.T) {
	c := New()
	first := "Datum;Leipzig Mitte NO2\n;µg/m³\n01.01.16 00:00;1,0\n"
	second := "Datum;Leipzig Mitte NO2\n;µg/m³\n01.01.16 00:00;2,0\n"
	_ = c.Ingest(strings.NewReader(first), "first")
	_ = c.Ingest(strings.NewReader(second), "second")
	if v, _ := c.Value("Leipzig Mitte", "NO2", "2016-01-01 00:00"); v != "2.0" {
		t.Errorf("Expected last write 2.0, got %q", v)
	}
}

func TestIngest_MalformedLeavesStateUntouched(t *testing.T) {
	c := New()
	if err := c.Ingest(strings.NewReader(leipzigExport), "good"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no units", "Datum;Leipzig Mitte NO2\n"},
		{"no columns", "Datum\n\n"},
		{"unnamed column", "Datum;NO2\n;µg/m³\n"},
		{"short row", "Datum;Leipzig Mitte NO2;Borna O3\n;µg/m³;µg/m³\n01.01.16 01:00;5,0\n"},
		{"bad date", "Datum;Leipzig Mitte NO2\n;µg/m³\n01.01.16 02:00;5,0\nsoon;6,0\n"},
		{"extra values", "Datum;Leipzig Mitte NO2\n;µg/m³\n01.01.16 02:00;5,0;7,0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Ingest(strings.NewReader(tt.data), tt.name)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected ParseError, got %v", err)
			}
		})
	}

	if got := c.Stations(); !reflect.DeepEqual(got, []string{"Leipzig Mitte"}) {
		t.Errorf("Failed ingests must not add stations, got %v", got)
	}
	if got := c.Timestamps("Leipzig Mitte"); !reflect.DeepEqual(got, []string{"2016-01-01 00:00"}) {
		t.Errorf("Failed ingests must not add rows, got %v", got)
	}
	if got := c.Columns(); !reflect.DeepEqual(got, []Column{{"NO2", "µg/m³"}}) {
		t.Errorf("Failed ingests must not register columns, got %v", got)
	}
}

func TestIngest_TrailingSeparatorAndCRLF(t *testing.T) {
	c := New()
	data := "Datum Zeit; Leipzig-Mitte NO2; \r\n; µg/m³; \r\n01.09.16 01:00; 12,3; \r\n\r\n"
	if err := c.Ingest(strings.NewReader(data), "portal.csv"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if v, _ := c.Value("Leipzig-Mitte", "NO2", "2016-09-01 01:00"); v != "12.3" {
		t.Errorf("Expected 12.3, got %q", v)
	}
}

func TestIngestBlob(t *testing.T) {
	blob := "Datum Zeit; Leipzig-Mitte NO2\n; µg/m³\n01.09.16 01:00; 12,3\n" +
		"Datum Zeit; Borna PM10\n; µg/m³\n01.09.16 01:00; 30,0\n"

	c := New()
	if err := c.IngestBlob(blob, "download.csv"); err != nil {
		t.Fatalf("IngestBlob failed: %v", err)
	}
	if got := c.Stations(); !reflect.DeepEqual(got, []string{"Borna", "Leipzig-Mitte"}) {
		t.Errorf("Unexpected stations: %v", got)
	}

	if err := New().IngestBlob("  \n", "blank"); err == nil {
		t.Error("Expected error for blob without exports")
	}
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"Leipzig Mitte,NO2.csv":  "Datum;Leipzig Mitte NO2\n;µg/m³\n01.09.16 01:00;12,3\n",
		"Leipzig Mitte,PM10.csv": "Datum;Leipzig Mitte PM10\n;µg/m³\n01.09.16 02:00;20,0\n",
		"Borna,O3.csv":           "garbage\n",
		"Borna,SO2.html":         "<html>error</html>",
		"Borna,CO.err":           "context deadline exceeded",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// latin-1 file saved straight from the portal
	latin1 := "Datum;Zwickau NO2\n;\xb5g/m\xb3\n01.09.16 01:00;8,0\n"
	if err := os.WriteFile(filepath.Join(dir, "Zwickau,NO2.csv"), []byte(latin1), 0644); err != nil {
		t.Fatal(err)
	}

	c := New()
	stats, err := c.IngestDir(dir)
	if err != nil {
		t.Fatalf("IngestDir failed: %v", err)
	}
	if stats.FilesRead != 3 || stats.FilesFailed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if got := c.Stations(); !reflect.DeepEqual(got, []string{"Leipzig Mitte", "Zwickau"}) {
		t.Errorf("Unexpected stations: %v", got)
	}
	if cols := c.StationColumns("Zwickau"); len(cols) != 1 || cols[0].Unit != "µg/m³" {
		t.Errorf("Expected decoded latin-1 unit, got %v", cols)
	}

	if _, err := c.IngestDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestFlush_Scenario(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(base, "joint", "2016", "09")

	c := New()
	if err := c.Ingest(strings.NewReader(leipzigExport), "leipzig"); err != nil {
		t.Fatal(err)
	}
	daily := "Datum;Borna O3\n;µg/m³\n02.01.16;55,5\n"
	if err := c.Ingest(strings.NewReader(daily), "borna"); err != nil {
		t.Fatal(err)
	}

	res, err := c.Flush(out, storage.NewFileWriter(base), ',')
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if res.Stations != 2 || res.FilesWritten != 2 || res.FilesSkipped != 0 {
		t.Errorf("Unexpected result: %+v", res)
	}

	got := readLines(t, filepath.Join(out, "Leipzig Mitte.csv"))
	want := []string{
		"Date,Time,NO2,O3",
		"yyyy-mm-dd,hh:mm,µg/m³,µg/m³",
		"2016-01-01,00:00,12.3,",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Leipzig output:\n%v\nwant\n%v", got, want)
	}

	got = readLines(t, filepath.Join(out, "Borna.csv"))
	if got[2] != "2016-01-02,,,55.5" {
		t.Errorf("Daily row should have empty time field, got %q", got[2])
	}

	manifest := readLines(t, filepath.Join(out, ManifestName))
	if !reflect.DeepEqual(manifest, []string{"Borna", "Leipzig Mitte"}) {
		t.Errorf("Unexpected manifest: %v", manifest)
	}
}

func TestFlush_TwoMonthsMerge(t *testing.T) {
	base := t.TempDir()
	sep := "Datum;Leipzig Mitte NO2;Leipzig Mitte PM10\n;µg/m³;µg/m³\n"
	september := sep + "30.09.16 23:00;10,0;n. def.\n01.09.16 01:00;11,0;21,0\n"
	october := sep + "01.10.16 00:00;n. def.;22,0\n"

	c := New()
	// later month first, output must still be chronological
	if err := c.Ingest(strings.NewReader(october), "oct"); err != nil {
		t.Fatal(err)
	}
	if err := c.Ingest(strings.NewReader(september), "sep"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Flush(base, storage.NewFileWriter(base), ';'); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := readLines(t, filepath.Join(base, "Leipzig Mitte.csv"))
	want := []string{
		"Date;Time;NO2;PM10",
		"yyyy-mm-dd;hh:mm;µg/m³;µg/m³",
		"2016-09-01;01:00;11.0;21.0",
		"2016-09-30;23:00;10.0;",
		"2016-10-01;00:00;;22.0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merged output:\n%v\nwant\n%v", got, want)
	}
}

func TestFlush_RoundTrip(t *testing.T) {
	base := t.TempDir()
	c := New()
	data := "Datum Zeit; Leipzig-Mitte NO2; Leipzig-Mitte SO2\n; µg/m³; µg/m³\n" +
		"01.09.16 01:00; 12,3; 4,5\n01.09.16 02:00; n. def.; 4,7\n"
	if err := c.Ingest(strings.NewReader(data), "raw"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Flush(base, storage.NewFileWriter(base), ','); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, filepath.Join(base, "Leipzig-Mitte.csv"))
	rows := map[string][]string{}
	for _, l := range lines[2:] {
		f := strings.Split(l, ",")
		rows[f[0]+" "+f[1]] = f[2:]
	}
	if rows["2016-09-01 01:00"][0] != "12.3" || rows["2016-09-01 01:00"][1] != "4.5" {
		t.Errorf("Unexpected 01:00 row: %v", rows["2016-09-01 01:00"])
	}
	if rows["2016-09-01 02:00"][0] != "" || rows["2016-09-01 02:00"][1] != "4.7" {
		t.Errorf("Unexpected 02:00 row: %v", rows["2016-09-01 02:00"])
	}
}

func TestFlush_UnsafeStationSkipped(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "data")
	out := filepath.Join(base, "joint")

	c := New()
	data := "Datum;../../Evil NO2;Leipzig Mitte NO2\n;µg/m³;µg/m³\n01.01.16 00:00;1,0;2,0\n"
	if err := c.Ingest(strings.NewReader(data), "evil"); err != nil {
		t.Fatal(err)
	}

	res, err := c.Flush(out, storage.NewFileWriter(base), ',')
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if res.FilesWritten != 1 || res.FilesSkipped != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, "Evil.csv")); !os.IsNotExist(err) {
		t.Error("Traversal target must not be created")
	}
	if _, err := os.Stat(filepath.Join(out, "Leipzig Mitte.csv")); err != nil {
		t.Errorf("Safe station should still be written: %v", err)
	}
	if manifest := readLines(t, filepath.Join(out, ManifestName)); !reflect.DeepEqual(manifest, []string{"../../Evil", "Leipzig Mitte"}) {
		t.Errorf("Manifest should list every station in order, got %v", manifest)
	}
}

func TestFlush_EmptyColumnNotRegistered(t *testing.T) {
	base := t.TempDir()
	c := New()
	data := "Datum;Leipzig Mitte NO2;Leipzig Mitte CO;Borna CO\n;µg/m³;mg/m³;mg/m³\n" +
		"01.01.16 00:00;12,3;n. def.;\n"
	if err := c.Ingest(strings.NewReader(data), "sparse"); err != nil {
		t.Fatal(err)
	}

	// header columns still yield their triples
	if got := c.StationColumns("Leipzig Mitte"); len(got) != 2 {
		t.Errorf("StationColumns = %v, want both header columns", got)
	}
	if got := c.Stations(); !reflect.DeepEqual(got, []string{"Borna", "Leipzig Mitte"}) {
		t.Errorf("Unexpected stations: %v", got)
	}
	if got := c.Columns(); !reflect.DeepEqual(got, []Column{{"NO2", "µg/m³"}}) {
		t.Errorf("Columns = %v, want only NO2", got)
	}

	if _, err := c.Flush(base, storage.NewFileWriter(base), ','); err != nil {
		t.Fatal(err)
	}
	got := readLines(t, filepath.Join(base, "Leipzig Mitte.csv"))
	if got[0] != "Date,Time,NO2" {
		t.Errorf("Empty substance should not become a column, got %q", got[0])
	}
	if got := readLines(t, filepath.Join(base, ManifestName)); !reflect.DeepEqual(got, []string{"Borna", "Leipzig Mitte"}) {
		t.Errorf("Unexpected manifest: %v", got)
	}
}
