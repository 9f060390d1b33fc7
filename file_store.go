package reflux

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a DocumentStore backed by a single JSON or YAML file. Save
// replaces the file atomically.
type FileStore struct {
	*DocumentStore
	path string
}

// NewFileStore opens the store at path. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON. A missing file is an
// empty store; it is created on the first Save.
func NewFileStore(path string) (*FileStore, error) {
	var codec Codec = JSONCodec{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		codec = YAMLCodec{}
	}

	ds, err := NewDocumentStore(context.Background(), fileDocument{path: path}, codec)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	return &FileStore{DocumentStore: ds, path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// fileDocument is a Document stored on the local filesystem.
type fileDocument struct {
	path string
}

func (d fileDocument) Read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (d fileDocument) Write(_ context.Context, data []byte) error {
	return writeAtomic(d.path, data)
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to replace store %s: %w", path, err)
	}
	return nil
}

// Ensure FileStore implements Store and Reloader.
var (
	_ Store    = (*FileStore)(nil)
	_ Reloader = (*FileStore)(nil)
)
