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
	"github.com/pgpitr/internal/storage"
)

var cleanArchiveCmd = &cobra.Command{
	Use:   "clean-archive",
	Short: "Prune the destination WAL archive",
	Long: `Delete shipped WAL segments no backup generation can need: those
older than the oldest retained generation's starting segment (the
pg_archivecleanup rule). Timeline history and backup history files are
always kept.

Retention after a backup only removes generation trees; run this
periodically to reclaim the wal/ prefix as well.`,
	RunE: runCleanArchive,
}

func runCleanArchive(cmd *cobra.Command, args []string) error {
	return runJob("clean-archive", true, func(ctx context.Context, env *jobEnv) error {
		backend, err := storage.NewBackend(ctx, &env.cfg.Destination)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		sets := backupset.NewManager(backend, env.log)
		removed, err := sets.CleanArchive(ctx)
		if err != nil {
			return err
		}
		env.log.Info("archive clean complete", "removed", removed)

		if labels, err := sets.Generations(ctx); err == nil {
			env.recorder.SetGenerations(len(labels))
		}
		return nil
	})
}
