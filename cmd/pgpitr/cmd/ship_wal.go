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
	"github.com/pgpitr/internal/wal"
)

var shipWALCmd = &cobra.Command{
	Use:   "ship-wal",
	Short: "Mirror the working WAL directory to the destination",
	Long: `Upload locally archived WAL segments to the destination's wal/ prefix
and prune local segments the promoted base backup no longer needs.

Meant to run from cron every few minutes. If the previous run is still
going, this one skips (exit 0); mirroring is convergent, so the next
trigger catches up. A destination failure exits 2 and leaves the working
directory untouched.`,
	RunE: runShipWAL,
}

func runShipWAL(cmd *cobra.Command, args []string) error {
	return runJob("ship-wal", true, func(ctx context.Context, env *jobEnv) error {
		backend, err := storage.NewBackend(ctx, &env.cfg.Destination)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		sets := backupset.NewManager(backend, env.log)
		shipper := wal.NewShipper(env.cfg.WorkingWALDir, backend, sets, env.log)

		result, err := shipper.Run(ctx)
		if result != nil {
			env.recorder.AddBytesShipped(result.BytesShipped)
			env.recorder.AddSegmentsPruned(result.Pruned)
		}
		return err
	})
}
