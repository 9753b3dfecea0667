package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/bakctl/internal/backup"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
backup:
  work_directory: /tmp/bakctl
  timeout: 30m
  compression: LZ4
storage:
  type: s3
  bucket: backups
  region: eu-west-1
  prefix: prod
metadata:
  driver: sqlite
  dsn: /var/lib/bakctl/meta.db
encryption:
  enabled: true
  passphrase_env: BAKCTL_PASSPHRASE
  iterations: 150000
vault:
  address: https://vault.example.com:8200
  role_id: abc
  role_name: bakctl
retention:
  - name: standard
    keep_daily: 7
    keep_weekly: 4
    keep_monthly: 12
    keep_yearly: 3
    max_versions: 50
    is_active: true
postgres:
  host: pg.internal
  port: "5432"
  vault:
    role_base: database/creds
  instances:
    - name: orders-db
      database: orders
      role_name: orders-ro
mongodb:
  host: mongo.internal
  port: "27017"
  instances:
    - name: events-db
      database: events
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "/tmp/bakctl", cfg.Backup.WorkDirectory)
	assert.Equal(t, 30*time.Minute, cfg.Backup.Timeout)
	assert.Equal(t, "LZ4", cfg.Backup.Compression)

	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "backups", cfg.Storage.Bucket)
	assert.Equal(t, 3, cfg.Storage.MaxRetries, "default applies when unset")

	assert.Equal(t, "sqlite", cfg.Metadata.Driver)
	assert.True(t, cfg.Encryption.Enabled)
	assert.Equal(t, 150000, cfg.Encryption.Iterations)

	require.Len(t, cfg.Retention, 1)
	assert.Equal(t, 7, cfg.Retention[0].KeepDaily)
	assert.Equal(t, 50, cfg.Retention[0].MaxVersions)

	require.Len(t, cfg.Postgres.Instances, 1)
	assert.Equal(t, "orders", cfg.Postgres.Instances[0].Database)
	assert.Equal(t, "orders-ro", cfg.Postgres.Instances[0].RoleName)
	assert.Equal(t, "database/creds", cfg.Postgres.Vault.RoleBase)
	assert.Equal(t, "pg.internal", cfg.Postgres.Host)

	require.Len(t, cfg.MongoDB.Instances, 1)
	assert.Equal(t, "events", cfg.MongoDB.Instances[0].Database)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: local
  path: /var/backups
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "2006-01-02_15-04-05", cfg.Backup.TimestampFormat)
	assert.Equal(t, time.Hour, cfg.Backup.Timeout)
	assert.Equal(t, string(backup.CompressionZstd), cfg.Backup.Compression)
	assert.Equal(t, "sqlite", cfg.Metadata.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	var cfg Config
	err := cfg.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadConfig)
}

func TestValidateRejectsTwoActivePolicies(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: local
  path: /var/backups
retention:
  - name: a
    is_active: true
  - name: b
    is_active: true
`)

	var cfg Config
	err := cfg.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidateConfig)
}

func TestValidateStorageRequirements(t *testing.T) {
	var cfg Config
	err := cfg.Load(writeConfig(t, "storage:\n  type: s3\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidateConfig)

	err = cfg.Load(writeConfig(t, "storage:\n  type: local\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidateConfig)
}

func TestActivePolicy(t *testing.T) {
	cfg := Config{
		Retention: []backup.RetentionPolicy{
			{Name: "a"},
			{Name: "b", IsActive: true},
		},
	}
	policy := cfg.ActivePolicy()
	require.NotNil(t, policy)
	assert.Equal(t, "b", policy.Name)

	cfg.Retention = cfg.Retention[:1]
	assert.Nil(t, cfg.ActivePolicy())
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	include := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(include, []byte(`
metadata:
  driver: memory
`), 0o644))

	base := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
include:
  - `+include+`
storage:
  type: local
  path: /var/backups
`), 0o644))

	var cfg Config
	require.NoError(t, cfg.Load(base))
	assert.Equal(t, "memory", cfg.Metadata.Driver)
}
