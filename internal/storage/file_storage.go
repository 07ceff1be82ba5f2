package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStorage manages files inside one run's output directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Dir returns the storage root.
func (s *FileStorage) Dir() string { return s.dir }

// Path returns the absolute path of filename inside the storage root.
func (s *FileStorage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Exists checks whether a file exists in the storage directory.
func (s *FileStorage) Exists(filename string) bool {
	_, err := os.Stat(s.Path(filename))
	return err == nil
}

// WriteFileExclusive writes data to filename, refusing to touch an
// existing file. os.ErrExist signals a collision to the caller.
func (s *FileStorage) WriteFileExclusive(filename string, data []byte) error {
	f, err := os.OpenFile(s.Path(filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}

// WriteFile writes data to filename, replacing any previous content.
func (s *FileStorage) WriteFile(filename string, data []byte) error {
	return os.WriteFile(s.Path(filename), data, 0o644)
}
