package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rewired-gh/luftonline/internal/logger"
)

func writeConfig(t *testing.T, dir, portalURL string) string {
	t.Helper()
	content := fmt.Sprintf(`portal:
  url: %q
  timeout: 2s
paths:
  data_dir: %q
  base_dir: %q
storage:
  enabled: true
  db_path: %q
logging:
  level: "info"
  format: "text"
  file: %q
`, portalURL, filepath.Join(dir, "data"), dir, filepath.Join(dir, "data", "ledger.db"), filepath.Join(dir, "importer.log"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_FailureReturnsAfterCleanup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL)

	if code := run([]string{"-config", cfgPath}); code != 1 {
		t.Fatalf("Expected exit code 1, got %d", code)
	}

	// the log file was closed on the way out, later output stays on stderr
	logger.Info("after run")
	data, err := os.ReadFile(filepath.Join(dir, "importer.log"))
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), "Import failed") {
		t.Errorf("Log file should record the failure, got %q", data)
	}
	if strings.Contains(string(data), "after run") {
		t.Error("Log file should be closed when run returns")
	}
}

func TestRun_InvalidDate(t *testing.T) {
	dir := t.TempDir()
	if code := run([]string{"-config", filepath.Join(dir, "missing.yaml"), "-date", "2016-09"}); code != 2 {
		t.Errorf("Expected exit code 2, got %d", code)
	}
	if code := run([]string{"-config", filepath.Join(dir, "missing.yaml"), "-date", "10-2016", "-end-date", "09-2016"}); code != 2 {
		t.Errorf("Expected exit code 2 for a reversed range, got %d", code)
	}
}
