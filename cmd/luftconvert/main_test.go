package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_UnsafeStationIsNotFatal(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "data")
	out := filepath.Join(base, "joint")
	if err := os.MkdirAll(base, 0755); err != nil {
		t.Fatal(err)
	}
	blob := filepath.Join(base, "download.csv")
	content := "Datum Zeit; ../../Evil NO2; Leipzig-Mitte NO2\n; µg/m³; µg/m³\n01.09.16 01:00; 1,0; 2,0\n"
	if err := os.WriteFile(blob, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{
		"-config", filepath.Join(root, "missing.yaml"),
		"-file", blob,
		"-out-dir", out,
		"-base-dir", base,
	})
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(out, "Leipzig-Mitte.csv")); err != nil {
		t.Errorf("Safe station should be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Evil.csv")); !os.IsNotExist(err) {
		t.Error("Traversal target must not be created")
	}
}

func TestRun_Usage(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("Expected exit code 2 without -file or -data-dir, got %d", code)
	}
}

func TestRun_MissingSource(t *testing.T) {
	root := t.TempDir()
	code := run([]string{
		"-config", filepath.Join(root, "missing.yaml"),
		"-data-dir", filepath.Join(root, "raw", "2016", "09"),
		"-out-dir", filepath.Join(root, "joint"),
		"-base-dir", root,
	})
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}
