package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSystemPublisher writes bundles below a root directory.
type FileSystemPublisher struct {
	rootDir string
}

// NewFileSystemPublisher creates a filesystem-backed publisher.
func NewFileSystemPublisher(rootDir string) (*FileSystemPublisher, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create publish root: %w", err)
	}
	return &FileSystemPublisher{rootDir: rootDir}, nil
}

// Name implements Publisher.
func (p *FileSystemPublisher) Name() string { return "filesystem" }

// Publish implements Publisher. The write goes through a temp file and
// rename so readers never observe a partially written bundle.
func (p *FileSystemPublisher) Publish(_ context.Context, objectName string, content []byte, _ string) error {
	target := filepath.Join(p.rootDir, filepath.Clean(objectName))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".crunch-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod bundle: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move bundle into place: %w", err)
	}
	return nil
}
