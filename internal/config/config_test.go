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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyEnv(string) string { return "" }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
working_wal_dir: /srv/pgpitr/wal
destination:
  type: filesystem
  filesystem:
    path: /backup/pg
retention_keep: 3
wal_compression: gzip
`)

	cfg, err := Load(path, emptyEnv)
	require.NoError(t, err)

	assert.Equal(t, "/srv/pgpitr/wal", cfg.WorkingWALDir)
	assert.Equal(t, DestinationFilesystem, cfg.Destination.Type)
	assert.Equal(t, "/backup/pg", cfg.Destination.Filesystem.Path)
	assert.Equal(t, 3, cfg.RetentionKeep)
	assert.Equal(t, CompressionGzip, cfg.WALCompression)
	// Defaults survive partial files.
	assert.Equal(t, "dbname=postgres", cfg.ConnInfo)
	assert.Equal(t, "*/5 * * * *", cfg.ShipSchedule)
}

func TestLoad_MissingFileEnvOnly(t *testing.T) {
	env := map[string]string{
		"PGPITR_DESTINATION_TYPE": "filesystem",
		"PGPITR_DESTINATION_PATH": "/mnt/backup",
		"PGPITR_RETENTION_KEEP":   "7",
		"PGPITR_WAL_COMPRESSION":  "lz4",
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "/mnt/backup", cfg.Destination.Filesystem.Path)
	assert.Equal(t, 7, cfg.RetentionKeep)
	assert.Equal(t, CompressionLZ4, cfg.WALCompression)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
destination:
  type: s3
  s3:
    bucket: pg-backups
    region: eu-west-1
`)

	env := map[string]string{
		"PGPITR_S3_ACCESS_KEY": "AKIAEXAMPLE",
		"PGPITR_S3_SECRET_KEY": "secret",
	}
	cfg, err := Load(path, func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "AKIAEXAMPLE", cfg.Destination.S3.AccessKey)
	assert.Equal(t, "secret", cfg.Destination.S3.SecretKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name: "missing destination type",
			content: `
working_wal_dir: /srv/wal
`,
			errContains: "destination.type is required",
		},
		{
			name: "unknown destination type",
			content: `
destination:
  type: ftp
`,
			errContains: "unsupported destination type",
		},
		{
			name: "bad cron spec",
			content: `
destination:
  type: filesystem
  filesystem:
    path: /backup
backup_schedule: "61 * * * *"
`,
			errContains: "backup_schedule",
		},
		{
			name: "bad compression",
			content: `
destination:
  type: filesystem
  filesystem:
    path: /backup
wal_compression: snappy
`,
			errContains: "unsupported wal_compression",
		},
		{
			name: "bad encryption",
			content: `
destination:
  type: filesystem
  filesystem:
    path: /backup
wal_encryption: rot13
`,
			errContains: "unsupported wal_encryption",
		},
		{
			name: "encryption without key file",
			content: `
destination:
  type: filesystem
  filesystem:
    path: /backup
wal_encryption: aes-256-gcm
`,
			errContains: "wal_encryption_key_file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), emptyEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("30 2 * * 0"))
	assert.Error(t, ValidateSchedule("not a cron spec"))
}

func TestRequiresRestart(t *testing.T) {
	tests := []struct {
		option string
		want   bool
	}{
		{"wal_level", true},
		{"shared_buffers", true},
		{"archive_mode", true},
		{"archive_command", false},
		{"work_mem", false},
		{"log_min_duration_statement", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiresRestart(tt.option), tt.option)
	}
}
