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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgpitr/internal/config"
)

func newTestFilesystemBackend(t *testing.T) *FilesystemBackend {
	t.Helper()
	b, err := NewFilesystemBackend(&config.FilesystemConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}
	return b
}

func TestNewFilesystemBackend_EmptyPath(t *testing.T) {
	_, err := NewFilesystemBackend(&config.FilesystemConfig{})
	if err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestFilesystemBackend_WriteRead(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	if err := b.Write(ctx, "20240101T020000Z/base/1234", strings.NewReader("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := b.Read(ctx, "20240101T020000Z/base/1234")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestFilesystemBackend_WriteLeavesNoTempFiles(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	if err := b.Write(ctx, "wal/000000010000000000000001", strings.NewReader("segment")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(b.BasePath(), "wal"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file, got %d", len(entries))
	}
	if entries[0].Name() != "000000010000000000000001" {
		t.Errorf("unexpected file name: %s", entries[0].Name())
	}
}

func TestFilesystemBackend_WriteReplacesAtomically(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	if err := b.Write(ctx, "current", strings.NewReader("20240101T020000Z")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := b.Write(ctx, "current", strings.NewReader("20240102T020000Z")); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	r, err := b.Read(ctx, "current")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "20240102T020000Z" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestFilesystemBackend_ListIgnoresTempFiles(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	if err := b.Write(ctx, "wal/000000010000000000000001", strings.NewReader("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate an in-flight write from a concurrent archiver.
	tmpName := filepath.Join(b.BasePath(), "wal", ".pgpitr-tmp-123456")
	if err := os.WriteFile(tmpName, []byte("partial"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	objects, err := b.List(ctx, "wal/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}
	if objects[0].Path != "wal/000000010000000000000001" {
		t.Errorf("unexpected path: %s", objects[0].Path)
	}
}

func TestFilesystemBackend_ListPrefix(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	files := []string{
		"20240101T020000Z/backup_label",
		"20240102T020000Z/backup_label",
		"wal/000000010000000000000003",
	}
	for _, f := range files {
		if err := b.Write(ctx, f, strings.NewReader("x")); err != nil {
			t.Fatalf("Write %s: %v", f, err)
		}
	}

	objects, err := b.List(ctx, "20240101T020000Z/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}

	all, err := b.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 objects, got %d", len(all))
	}
}

func TestFilesystemBackend_DeleteMissingIsNoop(t *testing.T) {
	b := newTestFilesystemBackend(t)
	if err := b.Delete(context.Background(), "nope/nothing"); err != nil {
		t.Errorf("Delete of missing object: %v", err)
	}
}

func TestFilesystemBackend_DeleteRemovesEmptyDirs(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	if err := b.Write(ctx, "20240101T020000Z/base/16384/1259", strings.NewReader("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Delete(ctx, "20240101T020000Z/base/16384/1259"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(b.BasePath(), "20240101T020000Z")); !os.IsNotExist(err) {
		t.Errorf("expected generation directory to be removed, stat err: %v", err)
	}
}

func TestFilesystemBackend_ExistsAndGetSize(t *testing.T) {
	b := newTestFilesystemBackend(t)
	ctx := context.Background()

	ok, err := b.Exists(ctx, "wal/000000010000000000000001")
	if err != nil || ok {
		t.Errorf("Exists before write = (%v, %v)", ok, err)
	}

	if err := b.Write(ctx, "wal/000000010000000000000001", strings.NewReader("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ok, err = b.Exists(ctx, "wal/000000010000000000000001")
	if err != nil || !ok {
		t.Errorf("Exists after write = (%v, %v)", ok, err)
	}

	size, err := b.GetSize(ctx, "wal/000000010000000000000001")
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size != 6 {
		t.Errorf("expected size 6, got %d", size)
	}
}
