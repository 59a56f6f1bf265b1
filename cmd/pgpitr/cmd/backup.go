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

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pgpitr/internal/backupset"
	"github.com/pgpitr/internal/producer"
	"github.com/pgpitr/internal/storage"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a full base backup",
	Long: `Take a full base backup of the PostgreSQL data directory.

The copy is bracketed by pg_backup_start/pg_backup_stop on a single
session, uploaded as a new timestamped generation, and only then does the
destination's current alias move to it. A failed run leaves the previous
backup fully intact and restorable. Retention runs after promotion.

If a previous backup is still running, this one skips (exit 0).`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	return runJob("backup", true, func(ctx context.Context, env *jobEnv) error {
		backend, err := storage.NewBackend(ctx, &env.cfg.Destination)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		conn, err := producer.Connect(ctx, env.cfg.ConnInfo, env.log)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close(ctx) }()

		sets := backupset.NewManager(backend, env.log)
		result, err := producer.New(conn, backend, sets, env.cfg, env.log).Run(ctx)
		if result != nil {
			env.recorder.AddBytesShipped(result.BytesUploaded)
		}
		if err != nil {
			return err
		}

		if labels, err := sets.Generations(ctx); err == nil {
			env.recorder.SetGenerations(len(labels))
		}
		return nil
	})
}
