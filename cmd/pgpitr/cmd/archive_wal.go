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

	"github.com/pgpitr/internal/storage"
	"github.com/pgpitr/internal/wal"
)

var archiveWALCmd = &cobra.Command{
	Use:   "archive-wal <segment-path>",
	Short: "Accept one WAL segment from archive_command",
	Long: `Copy a completed WAL segment into the local working directory.

Invoked synchronously by PostgreSQL:

  archive_command = 'pgpitr archive-wal %p'

Exit 0 tells the server the segment is safely archived and may be recycled,
so success is only reported after the copy is fsynced. Re-sending an already
archived segment with identical content succeeds; a same-name segment with
different content is refused (exit 1) and never overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveWAL,
}

// archive-wal takes no lock: the server serializes archive_command calls
// itself, and waiting on a lock here would stall WAL recycling.
func runArchiveWAL(cmd *cobra.Command, args []string) error {
	return runJob("archive-wal", false, func(ctx context.Context, env *jobEnv) error {
		compressor, err := storage.NewCompressor(env.cfg.WALCompression, env.cfg.WALCompressionLevel)
		if err != nil {
			return err
		}
		encryptor, err := storage.NewEncryptor(env.cfg.WALEncryption, env.cfg.WALEncryptionKeyFile)
		if err != nil {
			return err
		}

		archiver := wal.NewArchiver(env.cfg.WorkingWALDir, compressor, encryptor, env.log)
		if err := archiver.Archive(ctx, args[0]); err != nil {
			return err
		}

		env.recorder.AddSegmentsArchived(1)
		return nil
	})
}
