// Package storage abstracts durable blob storage for installed package-tree
// archives, so an operator can keep packages/ on local disk (the default,
// and the only place npm itself can actually run against) while still
// surviving ephemeral container restarts by archiving/restoring trees to a
// remote backend.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archiver stores and retrieves opaque blobs keyed by filename.
type Archiver interface {
	Stat(ctx context.Context, filename string) (size int64, exists bool, err error)
	Get(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error)
	Put(ctx context.Context, filename string) (w io.WriteCloser, err error)
}

// FileSystem implements Archiver using the local filesystem.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new FileSystem storage backend.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

func (fs *FileSystem) Stat(ctx context.Context, filename string) (size int64, exists bool, err error) {
	info, err := os.Stat(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size(), true, nil
}

func (fs *FileSystem) Get(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error) {
	fullPath := filepath.Join(fs.basePath, filename)
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return file, true, nil
}

func (fs *FileSystem) Put(ctx context.Context, filename string) (w io.WriteCloser, err error) {
	fullPath := filepath.Join(fs.basePath, filename)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("storage: create file: %w", err)
	}
	return file, nil
}
