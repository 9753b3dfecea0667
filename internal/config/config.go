package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/kebairia/bakctl/internal/backup"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config represents the top-level YAML configuration file.
type Config struct {
	Include []string `mapstructure:"include" yaml:"include,omitempty"`

	Backup     BackupConfig             `mapstructure:"backup"     yaml:"backup"`
	Storage    StorageConfig            `mapstructure:"storage"    yaml:"storage"`
	Metadata   MetadataConfig           `mapstructure:"metadata"   yaml:"metadata"`
	Encryption EncryptionConfig         `mapstructure:"encryption" yaml:"encryption"`
	Vault      VaultConfig              `mapstructure:"vault"      yaml:"vault"`
	Retention  []backup.RetentionPolicy `mapstructure:"retention"  yaml:"retention"`

	// Per-engine groups
	Postgres DBGroupConfig `mapstructure:"postgres" yaml:"postgres"`
	MongoDB  DBGroupConfig `mapstructure:"mongodb"  yaml:"mongodb"`
	MySQL    DBGroupConfig `mapstructure:"mysql"    yaml:"mysql"`
}

// BackupConfig contains global backup pipeline options.
type BackupConfig struct {
	WorkDirectory   string        `mapstructure:"work_directory"   yaml:"work_directory"`
	TimestampFormat string        `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	Timeout         time.Duration `mapstructure:"timeout"          yaml:"timeout"`
	Compression     string        `mapstructure:"compression"      yaml:"compression"`
}

// StorageConfig selects and configures the artifact storage backend.
type StorageConfig struct {
	Type            string `mapstructure:"type"              yaml:"type"` // "s3" or "local"
	Bucket          string `mapstructure:"bucket"            yaml:"bucket,omitempty"`
	Path            string `mapstructure:"path"              yaml:"path,omitempty"`
	Prefix          string `mapstructure:"prefix"            yaml:"prefix,omitempty"`
	Region          string `mapstructure:"region"            yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	MaxRetries      int    `mapstructure:"max_retries"       yaml:"max_retries,omitempty"`
}

// MetadataConfig selects the metadata store implementation.
type MetadataConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "memory"
	DSN    string `mapstructure:"dsn"    yaml:"dsn,omitempty"`
}

// EncryptionConfig controls the optional encryption stage.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// PassphraseEnv names an environment variable holding the passphrase.
	// VaultPath, when set, takes precedence and names a KV secret instead.
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env,omitempty"`
	VaultPath     string `mapstructure:"vault_path"     yaml:"vault_path,omitempty"`
	Iterations    int    `mapstructure:"iterations"     yaml:"iterations,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
}

// EngineDefaults provides common settings for a DB engine group.
type EngineDefaults struct {
	Host    string        `mapstructure:"host"    yaml:"host,omitempty"`
	Port    string        `mapstructure:"port"    yaml:"port,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Method  string        `mapstructure:"method"  yaml:"method,omitempty"`
}

// DBGroupConfig groups common engine settings and Vault prefixes.
type DBGroupConfig struct {
	EngineDefaults `mapstructure:",squash" yaml:",inline"`

	Vault     VaultPaths   `mapstructure:"vault"     yaml:"vault"`
	Instances []DBInstance `mapstructure:"instances" yaml:"instances"`
}

// VaultPaths holds the KV and role prefixes under the Vault mount.
type VaultPaths struct {
	KVBase   string `mapstructure:"kv_base"   yaml:"kv_base"`
	RoleBase string `mapstructure:"role_base" yaml:"role_base"`
}

// DBInstance represents a single database within a group.
type DBInstance struct {
	Name     string `mapstructure:"name"      yaml:"name"`
	Host     string `mapstructure:"host"      yaml:"host,omitempty"`
	Port     string `mapstructure:"port"      yaml:"port,omitempty"`
	Database string `mapstructure:"database"  yaml:"database,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
	Method   string `mapstructure:"method"    yaml:"method,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, unmarshals into the Config struct and
// validates it.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Backup.TimestampFormat == "" {
		c.Backup.TimestampFormat = "2006-01-02_15-04-05"
	}
	if c.Backup.Timeout == 0 {
		c.Backup.Timeout = time.Hour
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = string(backup.CompressionZstd)
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.MaxRetries == 0 {
		c.Storage.MaxRetries = 3
	}
	if c.Metadata.Driver == "" {
		c.Metadata.Driver = "sqlite"
	}
}

// Validate checks cross-field constraints that Viper cannot express.
func (c *Config) Validate() error {
	active := 0
	for _, p := range c.Retention {
		if p.Name == "" {
			return fmt.Errorf("%w: retention policy without a name", ErrValidateConfig)
		}
		if p.IsActive {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("%w: %d retention policies marked active, at most one allowed",
			ErrValidateConfig, active)
	}

	switch c.Storage.Type {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: s3 storage requires a bucket", ErrValidateConfig)
		}
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: local storage requires a path", ErrValidateConfig)
		}
	}
	return nil
}

// ActivePolicy returns the single active retention policy, or nil when the
// configuration declares none.
func (c *Config) ActivePolicy() *backup.RetentionPolicy {
	for i := range c.Retention {
		if c.Retention[i].IsActive {
			return &c.Retention[i]
		}
	}
	return nil
}
