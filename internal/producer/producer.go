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

// Package producer takes full base backups: it brackets a copy of the data
// directory with pg_backup_start/pg_backup_stop, uploads the tree as a new
// generation, promotes the current alias, and applies retention.
package producer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/pgpitr/internal/backupset"
	"github.com/pgpitr/internal/config"
	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/storage"
	"github.com/pgpitr/internal/util"
)

// excludedDirs are data-directory subtrees a base backup must not contain.
// Their contents are runtime state PostgreSQL rebuilds on recovery; pg_wal in
// particular is covered by the WAL archive instead.
var excludedDirs = map[string]bool{
	"pg_wal":       true,
	"pg_xlog":      true,
	"pg_replslot":  true,
	"pg_dynshmem":  true,
	"pg_notify":    true,
	"pg_serial":    true,
	"pg_snapshots": true,
	"pg_stat_tmp":  true,
	"pg_subtrans":  true,
}

// excludedFiles are root-level files never included in a backup.
var excludedFiles = map[string]bool{
	"postmaster.pid":  true,
	"postmaster.opts": true,
}

// BackupResult summarizes one producer run.
type BackupResult struct {
	Label         string
	StartLSN      string
	StopLSN       string
	FilesUploaded int
	FilesSkipped  int
	BytesUploaded int64
	Deleted       []string
	Duration      time.Duration
}

// Producer runs full base backups against one PostgreSQL instance.
type Producer struct {
	conn    Querier
	backend storage.Backend
	sets    *backupset.Manager
	cfg     *config.Config
	log     logr.Logger

	// injectable for tests
	now     func() time.Time
	runHook func(ctx context.Context, command, label string) error
}

// New creates a producer over an established backup session.
func New(conn Querier, backend storage.Backend, sets *backupset.Manager, cfg *config.Config, log logr.Logger) *Producer {
	return &Producer{
		conn:    conn,
		backend: backend,
		sets:    sets,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		runHook: runShellHook,
	}
}

// Run performs one full backup. On any failure before promotion the current
// alias is untouched and the partial generation tree is left for diagnosis;
// pg_backup_stop is issued on every exit path so the server never stays in
// backup mode.
func (p *Producer) Run(ctx context.Context) (*BackupResult, error) {
	started := p.now()
	label := backupset.NewLabel(started)
	result := &BackupResult{Label: label}

	dataDir := p.cfg.DataDirectory
	if dataDir == "" {
		var err error
		if dataDir, err = showDataDirectory(ctx, p.conn); err != nil {
			return result, err
		}
	}
	p.log.Info("starting base backup", "label", label, "dataDir", dataDir)

	startLSN, err := startBackup(ctx, p.conn, "pgpitr "+label)
	if err != nil {
		return result, err
	}
	result.StartLSN = startLSN

	inBackup := true
	defer func() {
		if inBackup {
			if _, stopErr := stopBackup(ctx, p.conn); stopErr != nil {
				p.log.Error(stopErr, "failed to leave backup mode after error")
			}
		}
	}()

	if err := p.uploadTree(ctx, dataDir, label, result); err != nil {
		return result, err
	}

	stop, err := stopBackup(ctx, p.conn)
	inBackup = false
	if err != nil {
		return result, err
	}
	result.StopLSN = stop.LSN

	// backup_label last: its presence marks the generation complete, so it
	// must not appear until every data file is in place.
	if stop.TablespaceMap != "" {
		if err := p.writeMetadata(ctx, label, backupset.TablespaceMapFile, stop.TablespaceMap); err != nil {
			return result, err
		}
	}
	if err := p.writeMetadata(ctx, label, backupset.BackupLabelFile, stop.LabelFile); err != nil {
		return result, err
	}

	if err := p.sets.Promote(ctx, label); err != nil {
		return result, err
	}

	if p.cfg.PostBackupCommand != "" {
		if err := p.runHook(ctx, p.cfg.PostBackupCommand, label); err != nil {
			// The backup is complete and promoted; a hook failure must not
			// fail the run.
			p.log.Error(err, "post-backup hook failed", "command", p.cfg.PostBackupCommand)
		}
	}

	deleted, err := p.sets.ApplyRetention(ctx, p.cfg.RetentionKeep)
	result.Deleted = deleted
	if err != nil {
		return result, fmt.Errorf("retention failed: %w", err)
	}

	result.Duration = p.now().Sub(started)
	p.log.Info("base backup complete",
		"label", label, "startLSN", result.StartLSN, "stopLSN", result.StopLSN,
		"files", result.FilesUploaded, "skipped", result.FilesSkipped,
		"bytes", result.BytesUploaded, "retired", len(result.Deleted))
	return result, nil
}

// uploadTree copies the data directory into <label>/ at the destination,
// preserving relative paths. Uploads are convergent: objects already present
// with matching size are skipped, so a rerun after a transient failure
// resumes where the last one stopped.
func (p *Producer) uploadTree(ctx context.Context, dataDir, label string, result *BackupResult) error {
	err := filepath.WalkDir(dataDir, func(filePath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dataDir, filePath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if excludedDirs[rel] || strings.HasPrefix(d.Name(), "pgsql_tmp") {
				return filepath.SkipDir
			}
			return nil
		}
		if p.excludedFile(rel, d.Name()) {
			return nil
		}
		// Symlinks (pg_tblspc entries, admin-relocated dirs) and sockets are
		// not copied; tablespace content is mapped via tablespace_map.
		if !d.Type().IsRegular() {
			p.log.V(1).Info("skipping non-regular file", "path", rel)
			return nil
		}
		return p.uploadFile(ctx, filePath, path.Join(label, rel), result)
	})
	if err != nil {
		return joberr.MarkTransient(fmt.Errorf("base backup upload failed: %w", err))
	}
	return nil
}

func (p *Producer) excludedFile(rel, base string) bool {
	if excludedFiles[rel] {
		return true
	}
	// Relation cache dumps and temp files are rebuilt on startup and may be
	// mid-write while we walk; they appear at any depth.
	return base == "pg_internal.init" || strings.HasPrefix(base, "pgsql_tmp")
}

func (p *Producer) uploadFile(ctx context.Context, localPath, destPath string, result *BackupResult) error {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Dropped between walk and stat; the server is live under us.
			return nil
		}
		return err
	}

	exists, err := p.backend.Exists(ctx, destPath)
	if err != nil {
		return err
	}
	if exists {
		size, err := p.backend.GetSize(ctx, destPath)
		if err != nil {
			return err
		}
		if size == info.Size() {
			result.FilesSkipped++
			return nil
		}
	}

	retry := util.RetryWithBackoff(ctx, util.TransferRetryConfig(), func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return p.backend.Write(ctx, destPath, f)
	})
	if retry.LastError != nil {
		return retry.LastError
	}

	result.FilesUploaded++
	result.BytesUploaded += info.Size()
	return nil
}

func (p *Producer) writeMetadata(ctx context.Context, label, name, content string) error {
	if err := p.backend.Write(ctx, path.Join(label, name), strings.NewReader(content)); err != nil {
		return joberr.MarkTransient(fmt.Errorf("failed to store %s: %w", name, err))
	}
	return nil
}

// runShellHook runs the post-backup command through the shell, with the new
// generation's label in the environment.
func runShellHook(ctx context.Context, command, label string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), "PGPITR_BACKUP_LABEL="+label)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hook failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
