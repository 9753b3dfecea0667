package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kebairia/bakctl/internal/config"
	"github.com/kebairia/bakctl/internal/logger"
)

const EngineMongoDB = "mongodb"

// MongoDBOption defines a functional option for configuring a MongoDB
// instance.
type MongoDBOption func(*MongoDB)

// MongoDB dumps and restores a MongoDB database through mongodump and
// mongorestore, always in archive+gzip form so one dump is one file.
type MongoDB struct {
	Username        string
	Password        string
	Database        string
	Host            string
	Port            string
	Method          string
	TimestampFormat string
	Timeout         time.Duration
	Logger          logger.Logger
}

// NewMongoDB creates a new MongoDB instance from config defaults and
// supplied options.
func NewMongoDB(cfg config.Config, opts ...MongoDBOption) *MongoDB {
	m := &MongoDB{
		Host:            cfg.MongoDB.Host,
		Port:            cfg.MongoDB.Port,
		Method:          cfg.MongoDB.Method,
		TimestampFormat: cfg.Backup.TimestampFormat,
		Timeout:         cfg.Backup.Timeout,
		Logger:          logger.Global(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMongoHost overrides the host.
func WithMongoHost(host string) MongoDBOption {
	return func(m *MongoDB) {
		if host != "" {
			m.Host = host
		}
	}
}

// WithMongoPort overrides the port.
func WithMongoPort(port string) MongoDBOption {
	return func(m *MongoDB) {
		if port != "" {
			m.Port = port
		}
	}
}

// WithMongoCredentials sets username and password.
func WithMongoCredentials(user, pass string) MongoDBOption {
	return func(m *MongoDB) {
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
	}
}

// WithMongoDatabase overrides the database name.
func WithMongoDatabase(db string) MongoDBOption {
	return func(m *MongoDB) {
		if db != "" {
			m.Database = db
		}
	}
}

// WithMongoMethod overrides the dump method.
func WithMongoMethod(method string) MongoDBOption {
	return func(m *MongoDB) {
		if method != "" {
			m.Method = method
		}
	}
}

func (m *MongoDB) Name() string       { return m.Database }
func (m *MongoDB) Engine() string     { return EngineMongoDB }
func (m *MongoDB) DatabaseID() string { return m.Database }

// Dump runs mongodump into dir and returns the archive path. since is
// advisory; mongodump snapshots the whole database.
func (m *MongoDB) Dump(ctx context.Context, dir string, since *time.Time) (string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	timestamp := time.Now().Format(m.TimestampFormat)
	dumpPath := filepath.Join(dir, fmt.Sprintf("%s-%s.archive", timestamp, m.Database))

	args := []string{
		"--host", m.Host,
		"--port", m.Port,
		"--db", m.Database,
		"--archive=" + dumpPath,
	}
	if m.Username != "" {
		args = append(args, "--username", m.Username, "--password", m.Password)
	}

	cmd := exec.CommandContext(ctx, "mongodump", args...)
	cmd.Stderr = os.Stderr

	m.Logger.Info("dump started",
		"database", m.Database,
		"engine", EngineMongoDB,
		"since", sinceLabel(since),
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: mongodump: %v", ErrDumpFailed, err)
	}

	m.Logger.Info("dump completed",
		"database", m.Database,
		"engine", EngineMongoDB,
		"path", dumpPath,
		"duration", time.Since(start).String(),
	)
	return dumpPath, nil
}

// Restore loads an archive back with mongorestore.
func (m *MongoDB) Restore(ctx context.Context, dumpPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	if _, err := os.Stat(dumpPath); err != nil {
		return fmt.Errorf("dump file %q not found: %w", dumpPath, err)
	}

	args := []string{
		"--host", m.Host,
		"--port", m.Port,
		"--db", m.Database,
		"--drop",
		"--archive=" + dumpPath,
	}
	if m.Username != "" {
		args = append(args, "--username", m.Username, "--password", m.Password)
	}

	cmd := exec.CommandContext(ctx, "mongorestore", args...)
	cmd.Stderr = os.Stderr

	m.Logger.Info("restore started",
		"database", m.Database,
		"engine", EngineMongoDB,
		"source", dumpPath,
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	m.Logger.Info("restore completed",
		"database", m.Database,
		"engine", EngineMongoDB,
		"duration", time.Since(start).String(),
	)
	return nil
}
