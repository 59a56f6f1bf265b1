/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pgpitr/internal/config"
)

// tempFilePattern marks in-flight writes; List and Exists ignore them.
const tempFilePattern = ".pgpitr-tmp-*"

// FilesystemBackend implements Backend for a local or mounted path (including
// a remote mount such as NFS).
type FilesystemBackend struct {
	basePath string
}

// NewFilesystemBackend creates a filesystem storage backend rooted at the
// configured path.
func NewFilesystemBackend(cfg *config.FilesystemConfig) (*FilesystemBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem destination path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create destination directory %s: %w", cfg.Path, err)
	}
	return &FilesystemBackend{basePath: cfg.Path}, nil
}

// Write stores data atomically: a temp file in the target directory is
// written, flushed, then renamed over the final name.
func (b *FilesystemBackend) Write(ctx context.Context, path string, reader io.Reader) error {
	fullPath := filepath.Join(b.basePath, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data to %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, fullPath, err)
	}
	return syncDir(dir)
}

// syncDir flushes a directory so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}

// Read reads the object at the specified path.
func (b *FilesystemBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(b.basePath, path)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", fullPath, err)
	}
	return file, nil
}

// Delete removes the object at the specified path.
func (b *FilesystemBackend) Delete(ctx context.Context, path string) error {
	fullPath := filepath.Join(b.basePath, path)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete file %s: %w", fullPath, err)
	}
	// Drop directories emptied by the delete so removed generations do not
	// leave skeleton trees behind.
	dir := filepath.Dir(fullPath)
	for dir != b.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Exists checks whether a file exists at the specified path.
func (b *FilesystemBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(b.basePath, path)

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file %s: %w", fullPath, err)
	}
	return true, nil
}

// List lists files under the given prefix, paths relative to the root.
func (b *FilesystemBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.WalkDir(b.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isTempFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if prefix != "" && !strings.HasPrefix(relPath, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Path:         relPath,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return objects, nil
}

// GetSize returns the size of the file at the specified path.
func (b *FilesystemBackend) GetSize(ctx context.Context, path string) (int64, error) {
	fullPath := filepath.Join(b.basePath, path)

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("file not found: %s", path)
		}
		return 0, fmt.Errorf("failed to stat file %s: %w", fullPath, err)
	}
	return info.Size(), nil
}

// Close closes the filesystem backend (no-op).
func (b *FilesystemBackend) Close() error {
	return nil
}

// BasePath returns the destination root.
func (b *FilesystemBackend) BasePath() string {
	return b.basePath
}

func isTempFile(name string) bool {
	ok, _ := filepath.Match(tempFilePattern, name)
	return ok
}
