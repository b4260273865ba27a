// Package assets downloads named media into local scratch storage.
package assets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is appended to logical names that carry none.
const DefaultExtension = ".mp4"

// WithExtension appends ext to name unless name already ends with it.
func WithExtension(name, ext string) string {
	name = strings.TrimSpace(name)
	if ext == "" || strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		return name
	}
	return name + ext
}

// Scratch is the local directory assets are written to.
type Scratch struct {
	dir string
}

// NewScratch ensures dir exists and is writable.
func NewScratch(dir string) (*Scratch, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("scratch directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create scratch directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat scratch directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("scratch path %s is not a directory", dir)
	}

	check, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("scratch directory is not writable: %w", err)
	}
	_ = check.Close()
	if err := os.Remove(check.Name()); err != nil {
		return nil, fmt.Errorf("remove check file: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch root.
func (s *Scratch) Dir() string {
	return s.dir
}

// Path resolves name inside the scratch root and rejects traversal.
func (s *Scratch) Path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("file name is required")
	}
	base := filepath.Clean(s.dir)
	full := filepath.Clean(filepath.Join(base, name))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in %q", name)
	}
	return full, nil
}

// Write streams r into name and returns the local path. A partial file is
// removed when the copy fails.
func (s *Scratch) Write(name string, r io.Reader) (string, error) {
	full, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("close %s: %w", full, err)
	}
	return full, nil
}
