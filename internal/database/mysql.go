package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kebairia/bakctl/internal/config"
	"github.com/kebairia/bakctl/internal/logger"
)

const EngineMySQL = "mysql"

// MySQLOption defines a functional option for configuring a MySQL
// instance.
type MySQLOption func(*MySQL)

// MySQL dumps and restores a MySQL database through mysqldump and the
// mysql client.
type MySQL struct {
	Username        string
	Password        string
	Database        string
	Host            string
	Port            string
	TimestampFormat string
	Timeout         time.Duration
	Logger          logger.Logger
}

// NewMySQL returns a MySQL configured from cfg plus any overrides.
func NewMySQL(cfg config.Config, opts ...MySQLOption) *MySQL {
	m := &MySQL{
		Host:            cfg.MySQL.Host,
		Port:            cfg.MySQL.Port,
		TimestampFormat: cfg.Backup.TimestampFormat,
		Timeout:         cfg.Backup.Timeout,
		Logger:          logger.Global(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMySQLHost overrides the host.
func WithMySQLHost(host string) MySQLOption {
	return func(m *MySQL) {
		if host != "" {
			m.Host = host
		}
	}
}

// WithMySQLPort overrides the port.
func WithMySQLPort(port string) MySQLOption {
	return func(m *MySQL) {
		if port != "" {
			m.Port = port
		}
	}
}

// WithMySQLCredentials sets username and password.
func WithMySQLCredentials(user, pass string) MySQLOption {
	return func(m *MySQL) {
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
	}
}

// WithMySQLDatabase overrides the database name.
func WithMySQLDatabase(db string) MySQLOption {
	return func(m *MySQL) {
		if db != "" {
			m.Database = db
		}
	}
}

func (m *MySQL) Name() string       { return m.Database }
func (m *MySQL) Engine() string     { return EngineMySQL }
func (m *MySQL) DatabaseID() string { return m.Database }

// Dump runs mysqldump into dir and returns the SQL dump path. The
// password rides in MYSQL_PWD rather than on the command line, keeping
// it out of the process table.
func (m *MySQL) Dump(ctx context.Context, dir string, since *time.Time) (string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	timestamp := time.Now().Format(m.TimestampFormat)
	dumpPath := filepath.Join(dir, fmt.Sprintf("%s-%s.sql", timestamp, m.Database))

	out, err := os.Create(dumpPath)
	if err != nil {
		return "", fmt.Errorf("create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "mysqldump",
		"--host", m.Host,
		"--port", m.Port,
		"--user", m.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
		m.Database,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Password)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr

	m.Logger.Info("dump started",
		"database", m.Database,
		"engine", EngineMySQL,
		"since", sinceLabel(since),
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: mysqldump: %v", ErrDumpFailed, err)
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("flush dump file: %w", err)
	}

	m.Logger.Info("dump completed",
		"database", m.Database,
		"engine", EngineMySQL,
		"path", dumpPath,
		"duration", time.Since(start).String(),
	)
	return dumpPath, nil
}

// Restore feeds a SQL dump back through the mysql client.
func (m *MySQL) Restore(ctx context.Context, dumpPath string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, m.Timeout, ErrTimeout)
	defer cancel()

	in, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("dump file %q not found: %w", dumpPath, err)
	}
	defer in.Close()

	cmd := exec.CommandContext(ctx, "mysql",
		"--host", m.Host,
		"--port", m.Port,
		"--user", m.Username,
		m.Database,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Password)
	cmd.Stdin = in
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	m.Logger.Info("restore started",
		"database", m.Database,
		"engine", EngineMySQL,
		"source", dumpPath,
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	m.Logger.Info("restore completed",
		"database", m.Database,
		"engine", EngineMySQL,
		"duration", time.Since(start).String(),
	)
	return nil
}
