package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage. Each item owns
// exactly one stored file; previews are served straight from it and never
// persisted on the item.
type Storage interface {
	// Save saves a file and returns the path/filename it was stored under
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error
}

// LocalStorage implements the Storage interface on a flat local directory.
// Item IDs prefix the stored names, so the directory never nests.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// validName rejects names that would escape the flat storage directory.
// Upload filenames are sanitized before they reach storage, so a separator
// here means a caller bug, not user input.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("empty filename")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid filename: %s", name)
	}
	return nil
}

// Save writes a receipt file under its item-prefixed name
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if err := validName(filename); err != nil {
		return "", err
	}
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get reads a stored receipt file back for preview or extraction
func (l *LocalStorage) Get(path string) ([]byte, error) {
	if err := validName(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a stored receipt file
func (l *LocalStorage) Delete(path string) error {
	if err := validName(path); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
