// Package database provides the dump producers and restore targets the
// pipeline runs against: exec-based adapters around each engine's native
// tooling.
package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kebairia/bakctl/internal/config"
	"github.com/kebairia/bakctl/internal/vault"
)

var (
	ErrTimeout    = errors.New("operation timed out")
	ErrDumpFailed = errors.New("dump failed")
)

// Database is a dump producer and restore target for one database
// instance. Dump must return a complete, self-consistent snapshot file
// inside dir; since is advisory and may be ignored by engines that cannot
// honor it.
type Database interface {
	Name() string
	Engine() string
	DatabaseID() string
	Dump(ctx context.Context, dir string, since *time.Time) (string, error)
	Restore(ctx context.Context, dumpPath string) error
}

// Initialize builds every configured database instance, resolving
// credentials through Vault.
func Initialize(ctx context.Context, cfg config.Config, vaultClient *vault.Client) ([]Database, error) {
	var dbs []Database

	for _, instance := range cfg.Postgres.Instances {
		creds, err := credentialsFor(ctx, vaultClient, cfg.Postgres.Vault, instance)
		if err != nil {
			return nil, fmt.Errorf("postgres %q: %w", instance.Name, err)
		}
		pg := NewPostgres(cfg,
			WithPostgresHost(instance.Host),
			WithPostgresPort(instance.Port),
			WithPostgresCredentials(creds.Username, creds.Password),
			WithPostgresDatabase(instance.Database),
			WithPostgresMethod(instance.Method),
		)
		dbs = append(dbs, pg)
	}

	for _, instance := range cfg.MongoDB.Instances {
		creds, err := credentialsFor(ctx, vaultClient, cfg.MongoDB.Vault, instance)
		if err != nil {
			return nil, fmt.Errorf("mongodb %q: %w", instance.Name, err)
		}
		mongo := NewMongoDB(cfg,
			WithMongoHost(instance.Host),
			WithMongoPort(instance.Port),
			WithMongoCredentials(creds.Username, creds.Password),
			WithMongoDatabase(instance.Database),
			WithMongoMethod(instance.Method),
		)
		dbs = append(dbs, mongo)
	}

	for _, instance := range cfg.MySQL.Instances {
		creds, err := credentialsFor(ctx, vaultClient, cfg.MySQL.Vault, instance)
		if err != nil {
			return nil, fmt.Errorf("mysql %q: %w", instance.Name, err)
		}
		my := NewMySQL(cfg,
			WithMySQLHost(instance.Host),
			WithMySQLPort(instance.Port),
			WithMySQLCredentials(creds.Username, creds.Password),
			WithMySQLDatabase(instance.Database),
		)
		dbs = append(dbs, my)
	}

	return dbs, nil
}

func credentialsFor(ctx context.Context, vaultClient *vault.Client, paths config.VaultPaths, instance config.DBInstance) (vault.DynamicCredentials, error) {
	if vaultClient == nil || instance.RoleName == "" {
		return vault.DynamicCredentials{}, nil
	}
	rolePath := filepath.Join(paths.RoleBase, instance.RoleName)
	creds, err := vaultClient.GetDynamicCredentials(ctx, rolePath)
	if err != nil {
		return vault.DynamicCredentials{}, fmt.Errorf("vault read: %w", err)
	}
	return creds, nil
}
