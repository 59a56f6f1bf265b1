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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/pgpitr/internal/backupset"
	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/storage"
	"github.com/pgpitr/internal/util"
	"github.com/pgpitr/internal/walname"
)

// ShippedManifestName records the segments confirmed synced by the previous
// run. Pruning only ever touches segments named here, never the set synced in
// the same run, so a sync failure can never race a delete.
const ShippedManifestName = ".pgpitr-shipped"

// ShipResult summarizes one shipper run.
type ShipResult struct {
	// Shipped is the number of files uploaded this run.
	Shipped int
	// Skipped is the number of files already present at the destination.
	Skipped int
	// Pruned is the number of local segments deleted.
	Pruned int
	// BytesShipped is the total upload volume.
	BytesShipped int64
}

// Shipper mirrors the local working WAL directory to the destination's wal/
// prefix and prunes local segments already covered by the promoted backup
// generation. Mirroring is one-directional and convergent: a rerun after any
// failure uploads only what is missing.
type Shipper struct {
	workingDir string
	backend    storage.Backend
	sets       *backupset.Manager
	log        logr.Logger
}

// NewShipper creates a shipper for the given working directory.
func NewShipper(workingDir string, backend storage.Backend, sets *backupset.Manager, log logr.Logger) *Shipper {
	return &Shipper{
		workingDir: workingDir,
		backend:    backend,
		sets:       sets,
		log:        log,
	}
}

// Run performs one ship-and-prune cycle:
//
//  1. mirror every segment in the working directory to <dest>/wal/
//  2. prune local segments that were confirmed synced by the *previous* run
//     and whose WAL precedes the promoted generation's start segment
//  3. record this run's confirmed set for the next cycle
//
// A destination failure aborts before any local file is touched; the next
// scheduled run retries (at-least-once, idempotent by mirror semantics).
func (s *Shipper) Run(ctx context.Context) (*ShipResult, error) {
	if _, err := os.Stat(s.workingDir); os.IsNotExist(err) {
		s.log.Info("working directory does not exist, nothing to ship", "dir", s.workingDir)
		return &ShipResult{}, nil
	}

	local, err := s.listLocal()
	if err != nil {
		return nil, err
	}

	result := &ShipResult{}
	confirmed := make([]string, 0, len(local))

	for _, name := range local {
		n, err := s.shipOne(ctx, name)
		if err != nil {
			return result, joberr.MarkTransient(fmt.Errorf("failed to ship %s: %w", name, err))
		}
		if n < 0 {
			result.Skipped++
		} else {
			result.Shipped++
			result.BytesShipped += n
		}
		confirmed = append(confirmed, name)
	}

	pruned, err := s.prune(ctx)
	if err != nil {
		// Shipping already succeeded; a prune failure only delays disk reclaim.
		s.log.Error(err, "failed to prune working directory")
	}
	result.Pruned = pruned

	if err := s.writeManifest(confirmed); err != nil {
		return result, err
	}

	s.log.Info("ship cycle complete",
		"shipped", result.Shipped, "skipped", result.Skipped,
		"pruned", result.Pruned, "bytes", result.BytesShipped)
	return result, nil
}

// listLocal returns the shippable files in the working directory, in WAL order.
func (s *Shipper) listLocal() ([]string, error) {
	entries, err := os.ReadDir(s.workingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := storage.TrimCompressionExtension(storage.TrimEncryptionExtension(entry.Name()))
		if !walname.IsArchivable(name) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// shipOne uploads one file unless the destination already holds it at the
// same size. Returns bytes uploaded, or -1 when skipped.
func (s *Shipper) shipOne(ctx context.Context, name string) (int64, error) {
	localPath := filepath.Join(s.workingDir, name)
	destPath := path.Join(backupset.WALPrefix, name)

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}

	exists, err := s.backend.Exists(ctx, destPath)
	if err != nil {
		return 0, err
	}
	if exists {
		size, err := s.backend.GetSize(ctx, destPath)
		if err != nil {
			return 0, err
		}
		if size == info.Size() {
			return -1, nil
		}
		// Size mismatch means an interrupted upload; segments are immutable
		// once fully written, so re-uploading converges.
		s.log.Info("re-uploading incomplete segment", "segment", name)
	}

	retry := util.RetryWithBackoff(ctx, util.TransferRetryConfig(), func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return s.backend.Write(ctx, destPath, f)
	})
	if retry.LastError != nil {
		return 0, retry.LastError
	}
	return info.Size(), nil
}

// prune deletes local segments from the previous run's confirmed set that
// the promoted generation no longer needs.
func (s *Shipper) prune(ctx context.Context) (int, error) {
	previous, err := s.readManifest()
	if err != nil {
		return 0, err
	}
	if len(previous) == 0 {
		return 0, nil
	}

	current, err := s.sets.CurrentLabel(ctx)
	if err != nil {
		return 0, err
	}
	if current == "" {
		// Nothing promoted yet: every segment may still be needed.
		return 0, nil
	}
	threshold, err := s.sets.StartSegment(ctx, current)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, name := range previous {
		segment := storage.TrimCompressionExtension(storage.TrimEncryptionExtension(name))
		if !walname.IsSegmentName(segment) || !walname.Older(segment, threshold) {
			continue
		}
		err := os.Remove(filepath.Join(s.workingDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return pruned, fmt.Errorf("failed to prune %s: %w", name, err)
		}
		s.log.V(1).Info("pruned local segment", "segment", name, "threshold", threshold)
		pruned++
	}
	return pruned, nil
}

// readManifest loads the previous run's confirmed-synced set.
func (s *Shipper) readManifest() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.workingDir, ShippedManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read shipped manifest: %w", err)
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// writeManifest atomically replaces the confirmed-synced set.
func (s *Shipper) writeManifest(names []string) error {
	manifestPath := filepath.Join(s.workingDir, ShippedManifestName)

	tmp, err := os.CreateTemp(s.workingDir, ".pgpitr-manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	for _, name := range names {
		if _, err := fmt.Fprintln(tmp, name); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpName, manifestPath); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
