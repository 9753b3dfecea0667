package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kebairia/bakctl/internal/config"
	"github.com/kebairia/bakctl/internal/database"
	"github.com/kebairia/bakctl/internal/metadata"
	"github.com/kebairia/bakctl/internal/pipeline"
	"github.com/kebairia/bakctl/internal/rotation"
	"github.com/kebairia/bakctl/internal/storage"
	"github.com/kebairia/bakctl/internal/vault"
)

// env is the fully wired application: configuration, metadata store,
// storage backend, Vault session and the engines built on top of them.
type env struct {
	cfg          config.Config
	store        metadata.Store
	backend      storage.Backend
	vault        *vault.Client
	orchestrator *pipeline.Orchestrator
	engine       *rotation.Engine
}

// newEnv loads the configuration and wires every component from it.
func newEnv(ctx context.Context) (*env, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	backend = storage.WithRetry(backend, cfg.Storage.MaxRetries)

	var vaultClient *vault.Client
	if cfg.Vault.Address != "" || os.Getenv("VAULT_ADDR") != "" {
		vaultClient, err = vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
		)
		if err != nil {
			return nil, fmt.Errorf("connect vault: %w", err)
		}
	}

	dbs, err := database.Initialize(ctx, cfg, vaultClient)
	if err != nil {
		return nil, fmt.Errorf("initialize databases: %w", err)
	}

	orchestrator := pipeline.New(store, backend,
		pipeline.WithWorkDir(cfg.Backup.WorkDirectory),
	)
	for _, db := range dbs {
		orchestrator.Register(db)
	}

	// Configured retention policies are the source of truth; push them into
	// the store so rotation sees the same policies the file declares.
	for i := range cfg.Retention {
		if err := store.SavePolicy(ctx, &cfg.Retention[i]); err != nil {
			return nil, fmt.Errorf("save retention policy %q: %w", cfg.Retention[i].Name, err)
		}
	}

	return &env{
		cfg:          cfg,
		store:        store,
		backend:      backend,
		vault:        vaultClient,
		orchestrator: orchestrator,
		engine:       rotation.NewEngine(store, backend),
	}, nil
}

func openStore(cfg config.MetadataConfig) (metadata.Store, error) {
	switch cfg.Driver {
	case "memory":
		return metadata.NewMemoryStore(), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "bakctl.db"
		}
		return metadata.OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.Driver)
	}
}

// passphrase resolves the encryption passphrase and the key reference to
// record with the artifact. Vault takes precedence over the environment;
// when Vault serves it, the recorded reference is the Vault path, never
// derived key material.
func (e *env) passphrase(ctx context.Context) (secret, keyRef string, iterations int, err error) {
	enc := e.cfg.Encryption
	if !enc.Enabled {
		return "", "", 0, nil
	}

	if enc.VaultPath != "" {
		if e.vault == nil {
			return "", "", 0, fmt.Errorf("encryption.vault_path set but vault is not configured")
		}
		p, err := e.vault.GetPassphrase(ctx, enc.VaultPath)
		if err != nil {
			return "", "", 0, fmt.Errorf("fetch passphrase: %w", err)
		}
		iters := p.Iterations
		if iters == 0 {
			iters = enc.Iterations
		}
		return p.Passphrase, enc.VaultPath, iters, nil
	}

	if enc.PassphraseEnv != "" {
		secret := os.Getenv(enc.PassphraseEnv)
		if secret == "" {
			return "", "", 0, fmt.Errorf("encryption enabled but $%s is empty", enc.PassphraseEnv)
		}
		return secret, "", enc.Iterations, nil
	}

	return "", "", 0, fmt.Errorf("encryption enabled but no passphrase source configured")
}
