// Package storage persists uploaded image files. Only the pipeline reads the
// bytes back; everything else refers to images by database record.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore saves and removes uploaded image files.
type FileStore interface {
	Save(fileName string, content []byte) (string, error)
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// Local is a FileStore backed by a single directory on local disk.
type Local struct {
	dir string
}

// NewLocal creates the upload directory if needed and returns a Local store.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save writes content under the store's directory and returns the full path.
// The caller is responsible for making fileName unique.
func (l *Local) Save(fileName string, content []byte) (string, error) {
	path := filepath.Join(l.dir, filepath.Base(fileName))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Read returns the stored file's content.
func (l *Local) Read(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return content, nil
}

// Remove deletes a stored file. A missing file is not an error; abandonment
// cleanup may race with manual deletion.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

var _ FileStore = (*Local)(nil)
