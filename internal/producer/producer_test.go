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
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpitr/internal/backupset"
	"github.com/pgpitr/internal/config"
	"github.com/pgpitr/internal/storage"
)

const testLabelFile = "START WAL LOCATION: 0/2000028 (file 000000010000000000000002)\n" +
	"CHECKPOINT LOCATION: 0/2000060\nBACKUP METHOD: streamed\n"

// failingBackend wraps a real backend and fails every Write.
type failingBackend struct {
	storage.Backend
}

func (b *failingBackend) Write(ctx context.Context, path string, r io.Reader) error {
	return errors.New("access denied to destination bucket")
}

type producerFixture struct {
	mock    pgxmock.PgxConnIface
	backend storage.Backend
	sets    *backupset.Manager
	cfg     *config.Config
	dataDir string
}

func newProducerFixture(t *testing.T) *producerFixture {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mock.Close(context.Background()) })

	backend, err := storage.NewFilesystemBackend(&config.FilesystemConfig{Path: t.TempDir()})
	require.NoError(t, err)

	dataDir := t.TempDir()
	writeDataDirFixture(t, dataDir)

	return &producerFixture{
		mock:    mock,
		backend: backend,
		sets:    backupset.NewManager(backend, logr.Discard()),
		cfg: &config.Config{
			DataDirectory: dataDir,
			RetentionKeep: 3,
		},
		dataDir: dataDir,
	}
}

// writeDataDirFixture lays out a minimal data directory including every
// category the walker must exclude.
func writeDataDirFixture(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"PG_VERSION":                      "16\n",
		"global/pg_control":               "control data",
		"base/1/1259":                     "relation data",
		"pg_wal/000000010000000000000001": "wal, must not be copied",
		"pg_stat_tmp/db_0.stat":           "stats",
		"pg_replslot/slot1/state":         "slot state",
		"postmaster.pid":                  "1234",
		"postmaster.opts":                 "postgres",
		"global/pg_internal.init":         "relcache",
		"base/1/pgsql_tmp/pgsql_tmp99.0":  "temp sort data",
		"pg_notify/0000":                  "notify",
		"pg_dynshmem/mmap.1":              "shmem",
		"pg_serial/0000":                  "serial",
		"pg_snapshots/snap":               "snapshot",
		"pg_subtrans/0000":                "subtrans",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func (f *producerFixture) newProducer(backend storage.Backend, now time.Time) *Producer {
	p := New(f.mock, backend, backupset.NewManager(backend, logr.Discard()), f.cfg, logr.Discard())
	p.now = func() time.Time { return now }
	return p
}

func (f *producerFixture) expectStart() {
	f.mock.ExpectQuery(regexp.QuoteMeta(startBackupSQL)).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"pg_backup_start"}).AddRow("0/2000028"))
}

func (f *producerFixture) expectStop(spcmap string) {
	f.mock.ExpectQuery(regexp.QuoteMeta(stopBackupSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"lsn", "labelfile", "spcmapfile"}).
			AddRow("0/2000100", testLabelFile, spcmap))
}

func (f *producerFixture) readObject(t *testing.T, path string) string {
	t.Helper()
	r, err := f.backend.Read(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestProducer_SuccessfulBackup(t *testing.T) {
	f := newProducerFixture(t)
	f.expectStart()
	f.expectStop("")

	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "20240101T020000Z", result.Label)
	assert.Equal(t, "0/2000028", result.StartLSN)
	assert.Equal(t, "0/2000100", result.StopLSN)
	assert.Equal(t, 3, result.FilesUploaded) // PG_VERSION, pg_control, 1259

	ctx := context.Background()
	current, err := f.sets.CurrentLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20240101T020000Z", current)

	assert.Equal(t, testLabelFile, f.readObject(t, "20240101T020000Z/backup_label"))
	assert.Equal(t, "16\n", f.readObject(t, "20240101T020000Z/PG_VERSION"))

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProducer_ExcludesRuntimeState(t *testing.T) {
	f := newProducerFixture(t)
	f.expectStart()
	f.expectStop("")

	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	objects, err := f.backend.List(context.Background(), "20240101T020000Z/")
	require.NoError(t, err)

	paths := map[string]bool{}
	for _, obj := range objects {
		paths[obj.Path] = true
	}
	for _, excluded := range []string{
		"20240101T020000Z/pg_wal/000000010000000000000001",
		"20240101T020000Z/pg_stat_tmp/db_0.stat",
		"20240101T020000Z/pg_replslot/slot1/state",
		"20240101T020000Z/postmaster.pid",
		"20240101T020000Z/postmaster.opts",
		"20240101T020000Z/global/pg_internal.init",
		"20240101T020000Z/base/1/pgsql_tmp/pgsql_tmp99.0",
		"20240101T020000Z/pg_notify/0000",
	} {
		assert.False(t, paths[excluded], "excluded path uploaded: %s", excluded)
	}
}

func TestProducer_StoresTablespaceMap(t *testing.T) {
	f := newProducerFixture(t)
	f.expectStart()
	f.expectStop("16385 /mnt/fast_ssd\n")

	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "16385 /mnt/fast_ssd\n", f.readObject(t, "20240101T020000Z/tablespace_map"))
}

// A copy failure must still take the session out of backup mode.
func TestProducer_StopsBackupModeOnUploadFailure(t *testing.T) {
	f := newProducerFixture(t)
	f.expectStart()
	f.expectStop("")

	p := f.newProducer(&failingBackend{f.backend}, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err := p.Run(context.Background())
	require.Error(t, err)

	require.NoError(t, f.mock.ExpectationsWereMet(), "pg_backup_stop not issued after failure")
}

func TestProducer_FailureLeavesCurrentUntouched(t *testing.T) {
	f := newProducerFixture(t)
	ctx := context.Background()

	// t1 succeeds.
	f.expectStart()
	f.expectStop("")
	_, err := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)).Run(ctx)
	require.NoError(t, err)

	// t2 fails mid-upload.
	f.expectStart()
	f.expectStop("")
	_, err = f.newProducer(&failingBackend{f.backend}, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)).Run(ctx)
	require.Error(t, err)

	current, err := f.sets.CurrentLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20240101T020000Z", current, "failed run must not move the alias")

	// t3 succeeds and takes over.
	f.expectStart()
	f.expectStop("")
	_, err = f.newProducer(f.backend, time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC)).Run(ctx)
	require.NoError(t, err)

	current, err = f.sets.CurrentLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20240103T020000Z", current)
}

func TestProducer_RetentionRunsAfterPromotion(t *testing.T) {
	f := newProducerFixture(t)
	f.cfg.RetentionKeep = 2
	ctx := context.Background()

	for day := 1; day <= 3; day++ {
		f.expectStart()
		f.expectStop("")
		_, err := f.newProducer(f.backend, time.Date(2024, 1, day, 2, 0, 0, 0, time.UTC)).Run(ctx)
		require.NoError(t, err)
	}

	labels, err := f.sets.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102T020000Z", "20240103T020000Z"}, labels)
}

func TestProducer_HookFailureDoesNotFailBackup(t *testing.T) {
	f := newProducerFixture(t)
	f.cfg.PostBackupCommand = "/usr/local/bin/notify-backup"
	f.expectStart()
	f.expectStop("")

	hookCalled := false
	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	p.runHook = func(ctx context.Context, command, label string) error {
		hookCalled = true
		assert.Equal(t, "/usr/local/bin/notify-backup", command)
		assert.Equal(t, "20240101T020000Z", label)
		return errors.New("hook exploded")
	}

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, hookCalled)

	current, err := f.sets.CurrentLabel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20240101T020000Z", current)
}

func TestProducer_DiscoversDataDirectory(t *testing.T) {
	f := newProducerFixture(t)
	dataDir := f.cfg.DataDirectory
	f.cfg.DataDirectory = ""

	f.mock.ExpectQuery(regexp.QuoteMeta(showDataDirSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"data_directory"}).AddRow(dataDir))
	f.expectStart()
	f.expectStop("")

	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// A rerun over a partial tree re-uploads only what is missing.
func TestProducer_ResumesPartialUpload(t *testing.T) {
	f := newProducerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.backend.Write(ctx, "20240101T020000Z/PG_VERSION",
		strings.NewReader("16\n")))

	f.expectStart()
	f.expectStop("")
	p := f.newProducer(f.backend, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC))
	result, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, 2, result.FilesUploaded)
}
