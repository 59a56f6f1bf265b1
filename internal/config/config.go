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
	"fmt"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the configuration-management layer writes the
// agent configuration.
const DefaultConfigPath = "/etc/pgpitr/config.yaml"

// Destination types
const (
	DestinationFilesystem = "filesystem"
	DestinationS3         = "s3"
	DestinationGCS        = "gcs"
	DestinationAzure      = "azure"
)

// Compression algorithms accepted for wal_compression
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Encryption algorithms accepted for wal_encryption
const (
	EncryptionNone   = "none"
	EncryptionAESGCM = "aes-256-gcm"
	EncryptionAESCBC = "aes-256-cbc"
)

// Config holds the full agent configuration. All jobs are driven from this
// struct; none of them takes runtime input beyond the WAL segment path handed
// to archive-wal.
type Config struct {
	// WorkingWALDir is the local staging directory archive-wal writes to and
	// ship-wal ships from.
	WorkingWALDir string `yaml:"working_wal_dir"`

	// Destination describes the backup sink generations and WAL are shipped to.
	Destination DestinationConfig `yaml:"destination"`

	// DataDirectory overrides the data directory discovered via
	// SHOW data_directory. Normally left empty.
	DataDirectory string `yaml:"data_directory"`

	// ConnInfo is the pgx connection string used by the backup job
	// (default: dbname=postgres, connecting as the invoking OS user).
	ConnInfo string `yaml:"conninfo"`

	// RetentionKeep is the number of backup generations to keep. Zero or
	// negative keeps all generations.
	RetentionKeep int `yaml:"retention_keep"`

	// BackupSchedule and ShipSchedule are standard five-field cron specs,
	// rendered by the crontab subcommand and validated at load time. The
	// scheduler itself is an external collaborator.
	BackupSchedule string `yaml:"backup_schedule"`
	ShipSchedule   string `yaml:"ship_schedule"`

	// PostBackupCommand is run via sh -c after a generation has been promoted.
	// Best effort: its failure never rolls back the backup.
	PostBackupCommand string `yaml:"post_backup_command"`

	// WALCompression selects the compression applied to archived WAL segments
	// (none|gzip|lz4|zstd).
	WALCompression string `yaml:"wal_compression"`

	// WALCompressionLevel tunes the selected algorithm (0 = library default).
	WALCompressionLevel int `yaml:"wal_compression_level"`

	// WALEncryption selects the encryption applied to archived WAL segments
	// after compression (none|aes-256-gcm|aes-256-cbc).
	WALEncryption string `yaml:"wal_encryption"`

	// WALEncryptionKeyFile is the path to a file holding the 32-byte AES-256
	// key. Required when WALEncryption is not "none".
	WALEncryptionKeyFile string `yaml:"wal_encryption_key_file"`

	// LockDir holds the per-job lock files that prevent overlapping runs of
	// the same job.
	LockDir string `yaml:"lock_dir"`

	// MetricsTextfileDir, when set, receives node_exporter textfiles with job
	// metrics after every run.
	MetricsTextfileDir string `yaml:"metrics_textfile_dir"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level"`
}

// DestinationConfig selects and configures the backup destination backend.
type DestinationConfig struct {
	Type       string            `yaml:"type"`
	Filesystem *FilesystemConfig `yaml:"filesystem,omitempty"`
	S3         *S3Config         `yaml:"s3,omitempty"`
	GCS        *GCSConfig        `yaml:"gcs,omitempty"`
	Azure      *AzureConfig      `yaml:"azure,omitempty"`
}

// FilesystemConfig configures a local or mounted path destination.
type FilesystemConfig struct {
	Path string `yaml:"path"`
}

// S3Config configures an S3 or S3-compatible destination.
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	Prefix         string `yaml:"prefix,omitempty"`
	AccessKey      string `yaml:"access_key,omitempty"`
	SecretKey      string `yaml:"secret_key,omitempty"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty"`
}

// GCSConfig configures a Google Cloud Storage destination. An empty
// CredentialsFile falls back to application default credentials.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// AzureConfig configures an Azure Blob Storage destination.
type AzureConfig struct {
	StorageAccount string `yaml:"storage_account"`
	Container      string `yaml:"container"`
	Prefix         string `yaml:"prefix,omitempty"`
	AccountKey     string `yaml:"account_key,omitempty"`
}

// cronParser accepts the classic five-field crontab syntax the external
// scheduler uses.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron spec.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		WorkingWALDir:  "/var/lib/pgpitr/wal",
		ConnInfo:       "dbname=postgres",
		BackupSchedule: "0 2 * * *",
		ShipSchedule:   "*/5 * * * *",
		WALCompression: CompressionNone,
		WALEncryption:  EncryptionNone,
		LockDir:        "/var/run/pgpitr",
		LogLevel:       "info",
	}
}

// Load reads the YAML configuration at path, applies PGPITR_* environment
// overrides via getenv, and validates the result. A missing file is not an
// error; environment variables alone can configure the agent. getenv is
// injected so tests do not depend on the process environment.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fall through to environment-only configuration.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays PGPITR_* environment variables on top of file values.
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString("PGPITR_WORKING_WAL_DIR", &c.WorkingWALDir)
	setString("PGPITR_DATA_DIRECTORY", &c.DataDirectory)
	setString("PGPITR_CONNINFO", &c.ConnInfo)
	setString("PGPITR_BACKUP_SCHEDULE", &c.BackupSchedule)
	setString("PGPITR_SHIP_SCHEDULE", &c.ShipSchedule)
	setString("PGPITR_POST_BACKUP_COMMAND", &c.PostBackupCommand)
	setString("PGPITR_WAL_COMPRESSION", &c.WALCompression)
	setString("PGPITR_WAL_ENCRYPTION", &c.WALEncryption)
	setString("PGPITR_WAL_ENCRYPTION_KEY_FILE", &c.WALEncryptionKeyFile)
	setString("PGPITR_LOCK_DIR", &c.LockDir)
	setString("PGPITR_METRICS_TEXTFILE_DIR", &c.MetricsTextfileDir)
	setString("PGPITR_LOG_LEVEL", &c.LogLevel)

	if v := getenv("PGPITR_RETENTION_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PGPITR_RETENTION_KEEP %q: %w", v, err)
		}
		c.RetentionKeep = n
	}

	setString("PGPITR_DESTINATION_TYPE", &c.Destination.Type)
	if c.Destination.Type == DestinationFilesystem || getenv("PGPITR_DESTINATION_PATH") != "" {
		if c.Destination.Filesystem == nil {
			c.Destination.Filesystem = &FilesystemConfig{}
		}
		setString("PGPITR_DESTINATION_PATH", &c.Destination.Filesystem.Path)
	}
	if c.Destination.S3 != nil {
		setString("PGPITR_S3_ACCESS_KEY", &c.Destination.S3.AccessKey)
		setString("PGPITR_S3_SECRET_KEY", &c.Destination.S3.SecretKey)
	}
	if c.Destination.Azure != nil {
		setString("PGPITR_AZURE_ACCOUNT_KEY", &c.Destination.Azure.AccountKey)
	}

	return nil
}

// Validate checks the configuration for the requirements shared by all jobs.
func (c *Config) Validate() error {
	if c.WorkingWALDir == "" {
		return fmt.Errorf("working_wal_dir is required")
	}
	if c.Destination.Type == "" {
		return fmt.Errorf("destination.type is required")
	}
	switch c.Destination.Type {
	case DestinationFilesystem, DestinationS3, DestinationGCS, DestinationAzure:
	default:
		return fmt.Errorf("unsupported destination type: %s", c.Destination.Type)
	}

	switch c.WALCompression {
	case "", CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd:
	default:
		return fmt.Errorf("unsupported wal_compression: %s", c.WALCompression)
	}

	switch c.WALEncryption {
	case "", EncryptionNone:
	case EncryptionAESGCM, EncryptionAESCBC:
		if c.WALEncryptionKeyFile == "" {
			return fmt.Errorf("wal_encryption_key_file is required when wal_encryption is %s", c.WALEncryption)
		}
	default:
		return fmt.Errorf("unsupported wal_encryption: %s", c.WALEncryption)
	}

	if err := ValidateSchedule(c.BackupSchedule); err != nil {
		return fmt.Errorf("backup_schedule: %w", err)
	}
	if err := ValidateSchedule(c.ShipSchedule); err != nil {
		return fmt.Errorf("ship_schedule: %w", err)
	}

	return nil
}
