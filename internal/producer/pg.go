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

package producer

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"

	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/util"
)

// Both backup-mode calls must run on this one session: pg_backup_stop is
// scoped to the session that called pg_backup_start, and losing the session
// aborts backup mode server-side.
const (
	startBackupSQL = `SELECT pg_backup_start($1, false)::text`
	stopBackupSQL  = `SELECT lsn::text, labelfile, spcmapfile FROM pg_backup_stop(true)`
	showDataDirSQL = `SHOW data_directory`
)

// Querier is the slice of pgx.Conn the producer needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Connect opens the single backup session. Startup-phase refusals ("the
// database system is starting up") are retried briefly; anything still
// failing is reported transient so the scheduler's next trigger retries.
func Connect(ctx context.Context, conninfo string, log logr.Logger) (*pgx.Conn, error) {
	var conn *pgx.Conn
	result := util.RetryWithBackoff(ctx, util.ConnectRetryConfig(), func() error {
		var err error
		conn, err = pgx.Connect(ctx, conninfo)
		return err
	})
	if result.LastError != nil {
		err := fmt.Errorf("failed to connect after %d attempts: %w", result.Attempts, result.LastError)
		if util.IsRetryableError(result.LastError) {
			return nil, joberr.MarkTransient(err)
		}
		return nil, err
	}
	if result.Attempts > 1 {
		log.Info("connected after retries", "attempts", result.Attempts)
	}
	return conn, nil
}

// stopResult carries what pg_backup_stop returns.
type stopResult struct {
	LSN           string
	LabelFile     string
	TablespaceMap string
}

func startBackup(ctx context.Context, conn Querier, label string) (string, error) {
	var lsn string
	if err := conn.QueryRow(ctx, startBackupSQL, label).Scan(&lsn); err != nil {
		return "", fmt.Errorf("pg_backup_start failed: %w", err)
	}
	return lsn, nil
}

func stopBackup(ctx context.Context, conn Querier) (*stopResult, error) {
	var res stopResult
	if err := conn.QueryRow(ctx, stopBackupSQL).Scan(&res.LSN, &res.LabelFile, &res.TablespaceMap); err != nil {
		return nil, fmt.Errorf("pg_backup_stop failed: %w", err)
	}
	return &res, nil
}

func showDataDirectory(ctx context.Context, conn Querier) (string, error) {
	var dir string
	if err := conn.QueryRow(ctx, showDataDirSQL).Scan(&dir); err != nil {
		return "", fmt.Errorf("failed to discover data directory: %w", err)
	}
	return dir, nil
}
