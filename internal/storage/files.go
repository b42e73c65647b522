package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a path resolves outside the base directory
var ErrUnsafePath = errors.New("path resolves outside base directory")

// ResolvePath returns the absolute form of path with symlinks resolved.
// Components that do not exist yet are appended to the deepest existing
// ancestor unchanged, so paths can be checked before they are created.
func ResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to make path absolute: %w", err)
	}

	cur, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to resolve %s: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// IsSafePath reports whether path, after symlink resolution, lies inside baseDir
func IsSafePath(baseDir, path string) bool {
	base, err := ResolvePath(baseDir)
	if err != nil {
		return false
	}
	target, err := ResolvePath(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileWriter writes files confined to a base directory
type FileWriter struct {
	baseDir  string
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// NewFileWriter creates a writer that refuses paths outside baseDir
func NewFileWriter(baseDir string) *FileWriter {
	return &FileWriter{
		baseDir:  baseDir,
		filePerm: 0644,
		dirPerm:  0755,
	}
}

// BaseDir returns the traversal boundary
func (w *FileWriter) BaseDir() string {
	return w.baseDir
}

// Check returns ErrUnsafePath when path escapes the base directory
func (w *FileWriter) Check(path string) error {
	if !IsSafePath(w.baseDir, path) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}
	return nil
}

// EnsureDir creates dir and its parents if absent. Concurrent creation
// by another process is not an error.
func (w *FileWriter) EnsureDir(dir string) error {
	if err := w.Check(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, w.dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// WriteFile replaces path with data. The path is checked before anything
// is created, and the content is written to a temporary sibling first.
func (w *FileWriter) WriteFile(path string, data []byte) error {
	if err := w.Check(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, w.dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, w.filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod file %s: %w", path, err)
	}

	// Rename temp file to actual file
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file %s: %w", path, err)
	}
	return nil
}

// ListFiles returns the regular files in dir with the given extension, sorted by name
func ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
