package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

// StateFile keeps the crawl state blob in a single JSON file.
type StateFile struct {
	path string
}

// NewStateFile returns a backend writing to path. The parent directory is
// created on first write.
func NewStateFile(path string) (*StateFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}
	return &StateFile{path: filepath.Clean(path)}, nil
}

// Path returns the file location.
func (f *StateFile) Path() string {
	return f.path
}

// Read returns the file contents or storage.ErrNotFound.
func (f *StateFile) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", f.path, err)
	}
	return data, nil
}

// Write replaces the file atomically.
func (f *StateFile) Write(_ context.Context, data []byte) error {
	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("write state file %s: %w", f.path, err)
	}
	return nil
}

// Delete removes the file if present.
func (f *StateFile) Delete(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file %s: %w", f.path, err)
	}
	return nil
}
