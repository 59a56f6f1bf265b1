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

package backupset

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/pgpitr/internal/storage"
	"github.com/pgpitr/internal/walname"
)

// Destination layout
const (
	// CurrentPointerName is the object naming the promoted generation. It is
	// a pointer file rather than a symlink so the atomic-swap semantics hold
	// on object stores as well as on the filesystem backend.
	CurrentPointerName = "current"

	// WALPrefix is the destination prefix holding shipped WAL.
	WALPrefix = "wal"

	// BackupLabelFile is PostgreSQL's backup_label, stored per generation.
	BackupLabelFile = "backup_label"

	// TablespaceMapFile is PostgreSQL's tablespace_map, stored per generation
	// when the cluster has tablespaces.
	TablespaceMapFile = "tablespace_map"
)

// startWALRE extracts the first segment a generation needs, from the
// "START WAL LOCATION: 0/2000028 (file 000000010000000000000002)" line that
// pg_backup_stop emits into backup_label.
var startWALRE = regexp.MustCompile(`START WAL LOCATION: .*\(file ([0-9A-F]{24})\)`)

// Manager reads and mutates the backup set at the destination.
type Manager struct {
	backend storage.Backend
	log     logr.Logger
}

// NewManager creates a backup set manager over the given backend.
func NewManager(backend storage.Backend, log logr.Logger) *Manager {
	return &Manager{backend: backend, log: log}
}

// CurrentLabel returns the label the current alias points at, or "" when no
// generation has been promoted yet.
func (m *Manager) CurrentLabel(ctx context.Context) (string, error) {
	exists, err := m.backend.Exists(ctx, CurrentPointerName)
	if err != nil {
		return "", fmt.Errorf("failed to check current pointer: %w", err)
	}
	if !exists {
		return "", nil
	}

	r, err := m.backend.Read(ctx, CurrentPointerName)
	if err != nil {
		return "", fmt.Errorf("failed to read current pointer: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read current pointer: %w", err)
	}

	label := strings.TrimSpace(string(data))
	if !IsLabel(label) {
		return "", fmt.Errorf("current pointer contains invalid label %q", label)
	}
	return label, nil
}

// Promote atomically swaps the current alias to label. The backend Write
// contract guarantees a reader sees the old pointer or the new one, never a
// torn state, so a restorer always resolves a complete generation.
func (m *Manager) Promote(ctx context.Context, label string) error {
	if !IsLabel(label) {
		return fmt.Errorf("cannot promote invalid label %q", label)
	}
	if err := m.backend.Write(ctx, CurrentPointerName, strings.NewReader(label+"\n")); err != nil {
		return fmt.Errorf("failed to update current pointer: %w", err)
	}
	m.log.Info("promoted generation", "label", label)
	return nil
}

// Generations lists the generation labels present at the destination, oldest
// first. A label counts once its backup_label object exists: anything else is
// a partial transfer left by a failed producer run.
func (m *Manager) Generations(ctx context.Context) ([]string, error) {
	objects, err := m.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list destination: %w", err)
	}

	complete := map[string]bool{}
	for _, obj := range objects {
		label, rest, found := strings.Cut(obj.Path, "/")
		if !found || !IsLabel(label) {
			continue
		}
		if rest == BackupLabelFile {
			complete[label] = true
		}
	}

	labels := make([]string, 0, len(complete))
	for label := range complete {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

// StartSegment returns the first WAL segment the given generation needs to
// recover, parsed from its backup_label.
func (m *Manager) StartSegment(ctx context.Context, label string) (string, error) {
	r, err := m.backend.Read(ctx, label+"/"+BackupLabelFile)
	if err != nil {
		return "", fmt.Errorf("failed to read backup_label of %s: %w", label, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read backup_label of %s: %w", label, err)
	}

	match := startWALRE.FindSubmatch(data)
	if match == nil {
		return "", fmt.Errorf("backup_label of %s has no START WAL LOCATION line", label)
	}
	return string(match[1]), nil
}

// DeleteGeneration removes every object under a generation.
func (m *Manager) DeleteGeneration(ctx context.Context, label string) error {
	objects, err := m.backend.List(ctx, label+"/")
	if err != nil {
		return fmt.Errorf("failed to list generation %s: %w", label, err)
	}
	for _, obj := range objects {
		if err := m.backend.Delete(ctx, obj.Path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", obj.Path, err)
		}
	}
	return nil
}

// ApplyRetention deletes the oldest generations beyond keep, returning the
// deleted labels. The generation the current alias names is never deleted,
// whatever its age. keep <= 0 disables retention.
func (m *Manager) ApplyRetention(ctx context.Context, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	labels, err := m.Generations(ctx)
	if err != nil {
		return nil, err
	}
	if len(labels) <= keep {
		return nil, nil
	}

	current, err := m.CurrentLabel(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, label := range labels[:len(labels)-keep] {
		if label == current {
			m.log.Info("retention skipping current generation", "label", label)
			continue
		}
		if err := m.DeleteGeneration(ctx, label); err != nil {
			return deleted, err
		}
		m.log.Info("retention removed generation", "label", label)
		deleted = append(deleted, label)
	}
	return deleted, nil
}

// CleanArchive deletes shipped WAL segments that predate the oldest retained
// generation's start segment (the pg_archivecleanup rule). History and backup
// files are kept: they are tiny and a restore may need any of them. Returns
// the number of segments removed.
func (m *Manager) CleanArchive(ctx context.Context) (int, error) {
	labels, err := m.Generations(ctx)
	if err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		m.log.Info("no generations found, WAL archive left untouched")
		return 0, nil
	}

	oldest := labels[0]
	threshold, err := m.StartSegment(ctx, oldest)
	if err != nil {
		return 0, fmt.Errorf("cannot determine prune threshold: %w", err)
	}
	m.log.Info("cleaning WAL archive", "oldestGeneration", oldest, "threshold", threshold)

	objects, err := m.backend.List(ctx, WALPrefix+"/")
	if err != nil {
		return 0, fmt.Errorf("failed to list WAL archive: %w", err)
	}

	removed := 0
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Path, WALPrefix+"/")
		name = storage.TrimCompressionExtension(storage.TrimEncryptionExtension(name))
		if !walname.IsSegmentName(name) || !walname.Older(name, threshold) {
			continue
		}
		if err := m.backend.Delete(ctx, obj.Path); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", obj.Path, err)
		}
		removed++
	}
	return removed, nil
}
