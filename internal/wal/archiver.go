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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/storage"
	"github.com/pgpitr/internal/walname"
)

// Archiver copies completed WAL segments from pg_wal into the local working
// directory. It is invoked synchronously by the server's archive_command, so
// it must be idempotent: the server retries any segment that reports failure,
// and may re-send a segment it already archived after a crash.
type Archiver struct {
	workingDir string
	compressor storage.Compressor
	encryptor  storage.Encryptor
	log        logr.Logger
}

// NewArchiver creates an archiver writing to workingDir. Segments are
// compressed first, then encrypted, so the ciphertext does not defeat the
// compressor.
func NewArchiver(workingDir string, compressor storage.Compressor, encryptor storage.Encryptor, log logr.Logger) *Archiver {
	return &Archiver{
		workingDir: workingDir,
		compressor: compressor,
		encryptor:  encryptor,
		log:        log,
	}
}

// Archive stores the segment at segmentPath into the working directory.
//
// A same-name file with identical content is a successful no-op (the server
// re-sent a segment it already archived). A same-name file with different
// content is an integrity conflict and is never overwritten. The copy is
// write-to-temp, fsync, rename: a concurrent reader of the working directory
// never observes a partial segment under its final name.
func (a *Archiver) Archive(ctx context.Context, segmentPath string) error {
	name := filepath.Base(segmentPath)
	if !walname.IsArchivable(name) {
		return fmt.Errorf("refusing to archive %q: not a WAL segment or history file", name)
	}

	if err := os.MkdirAll(a.workingDir, 0o750); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", a.workingDir, err)
	}

	destName := name + a.compressor.Extension() + a.encryptor.Extension()
	destPath := filepath.Join(a.workingDir, destName)

	srcSum, err := fileSHA256(segmentPath)
	if err != nil {
		return fmt.Errorf("failed to checksum source segment: %w", err)
	}

	if _, err := os.Stat(destPath); err == nil {
		destSum, err := a.archivedSHA256(destPath)
		if err != nil {
			return fmt.Errorf("failed to checksum archived segment: %w", err)
		}
		if destSum == srcSum {
			a.log.Info("segment already archived, idempotent success", "segment", name)
			return nil
		}
		return joberr.MarkIntegrity(fmt.Errorf(
			"segment %s already archived with different content (archived %s, source %s)",
			name, destSum[:12], srcSum[:12]))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", destPath, err)
	}

	if err := a.writeAtomic(ctx, segmentPath, destPath); err != nil {
		return err
	}

	a.log.Info("archived segment", "segment", name, "dest", destPath)
	return nil
}

// writeAtomic copies src into dest via a temp file in the same directory.
func (a *Archiver) writeAtomic(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source segment: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(a.workingDir, ".pgpitr-incoming-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var sink io.Writer = tmp
	var ew *storage.EncryptingWriter
	if a.encryptor.Extension() != "" {
		ew = storage.NewEncryptingWriter(tmp, a.encryptor)
		sink = ew
	}

	cw, err := a.compressor.Compress(sink)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := io.Copy(cw, in); err != nil {
		cw.Close()
		tmp.Close()
		return fmt.Errorf("failed to copy segment: %w", err)
	}
	if err := cw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush compressor: %w", err)
	}
	if ew != nil {
		if err := ew.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encrypt segment: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", dest, err)
	}

	// The rename itself must be durable before success is reported, or the
	// server could recycle a segment the archive would lose on crash.
	dir, err := os.Open(a.workingDir)
	if err != nil {
		return fmt.Errorf("failed to open working directory: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("failed to sync working directory: %w", err)
	}
	return nil
}

// archivedSHA256 hashes the logical (decrypted, decompressed) content of an
// archived segment so the idempotence check compares like with like.
func (a *Archiver) archivedSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var src io.Reader = f
	if a.encryptor.Extension() != "" {
		src = storage.NewDecryptingReader(f, a.encryptor)
	}

	r, err := a.compressor.Decompress(src)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fileSHA256 hashes a file's content.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
