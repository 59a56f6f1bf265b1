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

package wal

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/storage"
)

const testSegment = "000000010000000000000001"

func newTestArchiver(t *testing.T, algorithm string) (*Archiver, string) {
	t.Helper()
	compressor, err := storage.NewCompressor(algorithm, 0)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	encryptor, err := storage.NewEncryptor("none", "")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	workingDir := t.TempDir()
	return NewArchiver(workingDir, compressor, encryptor, logr.Discard()), workingDir
}

func newEncryptingArchiver(t *testing.T, compression, encryption string) (*Archiver, storage.Encryptor, string) {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "wal.key")
	if err := os.WriteFile(keyFile, bytes.Repeat([]byte("k"), 32), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	compressor, err := storage.NewCompressor(compression, 0)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	encryptor, err := storage.NewEncryptor(encryption, keyFile)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	workingDir := t.TempDir()
	return NewArchiver(workingDir, compressor, encryptor, logr.Discard()), encryptor, workingDir
}

func writeSegmentFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestArchiver_RejectsNonWALFiles(t *testing.T) {
	a, _ := newTestArchiver(t, "none")
	src := writeSegmentFile(t, t.TempDir(), "postmaster.pid", []byte("1234"))

	if err := a.Archive(context.Background(), src); err == nil {
		t.Error("expected error for non-WAL file")
	}
}

func TestArchiver_CopiesSegment(t *testing.T) {
	a, workingDir := newTestArchiver(t, "none")
	content := bytes.Repeat([]byte{0xAB}, 8192)
	src := writeSegmentFile(t, t.TempDir(), testSegment, content)

	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(workingDir, testSegment))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("archived content differs from source")
	}
}

func TestArchiver_IdenticalResendIsSuccess(t *testing.T) {
	a, _ := newTestArchiver(t, "none")
	src := writeSegmentFile(t, t.TempDir(), testSegment, []byte("same bytes"))

	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	if err := a.Archive(context.Background(), src); err != nil {
		t.Errorf("re-archiving identical segment should succeed, got: %v", err)
	}
}

func TestArchiver_ConflictingContentIsIntegrityError(t *testing.T) {
	a, _ := newTestArchiver(t, "none")
	srcDir := t.TempDir()

	src := writeSegmentFile(t, srcDir, testSegment, []byte("original"))
	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("first Archive: %v", err)
	}

	if err := os.WriteFile(src, []byte("different"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := a.Archive(context.Background(), src)
	if err == nil {
		t.Fatal("expected integrity error for conflicting content")
	}
	if !joberr.IsIntegrity(err) {
		t.Errorf("expected integrity classification, got: %v", err)
	}
}

func TestArchiver_ConflictNeverOverwrites(t *testing.T) {
	a, workingDir := newTestArchiver(t, "none")
	srcDir := t.TempDir()

	src := writeSegmentFile(t, srcDir, testSegment, []byte("original"))
	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	if err := os.WriteFile(src, []byte("different"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_ = a.Archive(context.Background(), src)

	got, err := os.ReadFile(filepath.Join(workingDir, testSegment))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("conflicting archive overwrote existing segment: %q", got)
	}
}

func TestArchiver_LeavesNoTempFiles(t *testing.T) {
	a, workingDir := newTestArchiver(t, "gzip")
	src := writeSegmentFile(t, t.TempDir(), testSegment, []byte("segment data"))

	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	entries, err := os.ReadDir(workingDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".pgpitr-incoming-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestArchiver_CompressionRoundTrip(t *testing.T) {
	for _, algorithm := range []string{"gzip", "lz4", "zstd"} {
		t.Run(algorithm, func(t *testing.T) {
			a, workingDir := newTestArchiver(t, algorithm)
			content := bytes.Repeat([]byte("wal record payload "), 500)
			src := writeSegmentFile(t, t.TempDir(), testSegment, content)

			if err := a.Archive(context.Background(), src); err != nil {
				t.Fatalf("Archive: %v", err)
			}

			compressor, err := storage.NewCompressor(algorithm, 0)
			if err != nil {
				t.Fatalf("NewCompressor: %v", err)
			}
			f, err := os.Open(filepath.Join(workingDir, testSegment+compressor.Extension()))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer f.Close()
			r, err := compressor.Decompress(f)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Error("decompressed content differs from source")
			}

			// Identical resend must still be idempotent through compression.
			if err := a.Archive(context.Background(), src); err != nil {
				t.Errorf("compressed resend should succeed, got: %v", err)
			}
		})
	}
}

func TestArchiver_EncryptionRoundTrip(t *testing.T) {
	for _, encryption := range []string{"aes-256-gcm", "aes-256-cbc"} {
		t.Run(encryption, func(t *testing.T) {
			a, encryptor, workingDir := newEncryptingArchiver(t, "gzip", encryption)
			content := bytes.Repeat([]byte("wal record payload "), 500)
			src := writeSegmentFile(t, t.TempDir(), testSegment, content)

			if err := a.Archive(context.Background(), src); err != nil {
				t.Fatalf("Archive: %v", err)
			}

			// The stored name carries both extensions and the raw bytes on
			// disk must not be the compressed plaintext.
			storedPath := filepath.Join(workingDir, testSegment+".gz.enc")
			stored, err := os.ReadFile(storedPath)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if bytes.Contains(stored, []byte("wal record payload")) {
				t.Error("stored segment contains plaintext")
			}

			f, err := os.Open(storedPath)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer f.Close()
			compressor, err := storage.NewCompressor("gzip", 0)
			if err != nil {
				t.Fatalf("NewCompressor: %v", err)
			}
			r, err := compressor.Decompress(storage.NewDecryptingReader(f, encryptor))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Error("decrypted content differs from source")
			}

			// Identical resend must stay idempotent through encryption, even
			// though the ciphertext differs between runs.
			if err := a.Archive(context.Background(), src); err != nil {
				t.Errorf("encrypted resend should succeed, got: %v", err)
			}
		})
	}
}

func TestArchiver_EncryptedConflictIsIntegrityError(t *testing.T) {
	a, _, _ := newEncryptingArchiver(t, "none", "aes-256-gcm")
	srcDir := t.TempDir()

	src := writeSegmentFile(t, srcDir, testSegment, []byte("original"))
	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	if err := os.WriteFile(src, []byte("different"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := a.Archive(context.Background(), src)
	if !joberr.IsIntegrity(err) {
		t.Errorf("expected integrity classification, got: %v", err)
	}
}

func TestArchiver_ArchivesHistoryFiles(t *testing.T) {
	a, workingDir := newTestArchiver(t, "none")
	src := writeSegmentFile(t, t.TempDir(), "00000002.history", []byte("1\t0/2000000\tswitch\n"))

	if err := a.Archive(context.Background(), src); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workingDir, "00000002.history")); err != nil {
		t.Errorf("history file not archived: %v", err)
	}
}
