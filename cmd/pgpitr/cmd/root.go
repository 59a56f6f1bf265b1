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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/pgpitr/internal/config"
	"github.com/pgpitr/internal/joberr"
	"github.com/pgpitr/internal/joblock"
	"github.com/pgpitr/internal/logging"
	"github.com/pgpitr/internal/metrics"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pgpitr",
	Short: "PostgreSQL point-in-time-recovery backup agent",
	Long: `pgpitr maintains a continuously restorable backup of one PostgreSQL
instance: full base backups plus a continuous WAL archive, stored on a
filesystem path or an S3/GCS/Azure bucket.

Wire archive-wal into postgresql.conf and schedule the other jobs with cron:

  archive_command = 'pgpitr archive-wal %p'

  0 2 * * *   pgpitr backup
  */5 * * * * pgpitr ship-wal

Configuration is read from /etc/pgpitr/config.yaml (override with --config).
Every key can also be set through the environment:

  PGPITR_WORKING_WAL_DIR        Local staging directory for WAL
  PGPITR_DESTINATION_TYPE       filesystem|s3|gcs|azure
  PGPITR_CONNINFO               Connection string for the backup session
  PGPITR_RETENTION_KEEP         Backup generations to keep
  PGPITR_WAL_COMPRESSION        none|gzip|lz4|zstd

Diagnostics go to stderr; stdout stays empty so archive_command output is
never mistaken for data.`,
	// Failures are already logged with context; cobra's own printing would
	// duplicate them on stderr.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps the failure class to the exit code the
// scheduler contract expects: 0 success or skip, 1 fatal or integrity
// conflict, 2 transient (retry next trigger).
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return joberr.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(archiveWALCmd)
	rootCmd.AddCommand(shipWALCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(cleanArchiveCmd)
	rootCmd.AddCommand(crontabCmd)
	rootCmd.AddCommand(versionCmd)
}

// jobEnv is what every job receives after the shared setup.
type jobEnv struct {
	cfg      *config.Config
	log      logr.Logger
	recorder *metrics.Recorder
}

// runJob wraps a job with the shared lifecycle: config, logging, signal
// handling, optional per-job lock, and metrics export. A lock already held
// by another run is a skip, not an error.
func runJob(job string, withLock bool, fn func(ctx context.Context, env *jobEnv) error) error {
	cfg, err := config.Load(configFile, os.Getenv)
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.LogLevel, verbose)
	if err != nil {
		return err
	}
	log = logging.WithRunID(log, job)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := &jobEnv{cfg: cfg, log: log, recorder: metrics.NewRecorder()}

	if withLock {
		lock, held, err := joblock.Acquire(cfg.LockDir, job)
		if err != nil {
			return err
		}
		if !held {
			log.Info("previous run still holds the lock, skipping", "job", job)
			env.recorder.RecordRun(job, metrics.StatusSkipped, 0)
			exportMetrics(env, job)
			return nil
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Error(err, "failed to release job lock", "path", lock.Path())
			}
		}()
	}

	started := time.Now()
	runErr := fn(ctx, env)

	status := metrics.StatusSuccess
	if runErr != nil {
		status = metrics.StatusFailure
		log.Error(runErr, "job failed", "job", job)
	}
	env.recorder.RecordRun(job, status, time.Since(started))
	exportMetrics(env, job)

	return runErr
}

func exportMetrics(env *jobEnv, job string) {
	if err := env.recorder.WriteTextfile(env.cfg.MetricsTextfileDir, job); err != nil {
		env.log.Error(err, "failed to write metrics textfile")
	}
}
