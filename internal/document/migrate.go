package document

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// commonsKey is the cache key for the shared control database handle. It is
// pinned: LRU eviction never recycles it.
const commonsKey = "__commons__"

func sqlxOpen(dsn string) (*sqlx.DB, error) {
	return sqlx.Open("postgres", dsn)
}

//go:embed migrations/tenant/*.sql
var tenantMigrations embed.FS

//go:embed migrations/commons/*.sql
var commonsMigrations embed.FS

// CommonsDatabaseName returns the name of the shared control database holding
// the tenant registry and user accounts.
func (m *Manager) CommonsDatabaseName() string {
	return m.cfg.Prefix + "_commons"
}

// CommonsHandle returns the connection pool for the shared control database.
func (m *Manager) CommonsHandle() (*sqlx.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.handles[commonsKey]; ok {
		return entry.db, nil
	}

	db, err := sqlxOpen(m.dsn(m.CommonsDatabaseName()))
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "open commons database", err)
	}
	db.SetMaxOpenConns(m.cfg.PoolMax)
	db.SetMaxIdleConns(m.cfg.PoolMin)
	m.handles[commonsKey] = &handleEntry{db: db}
	return db, nil
}

// Provision creates the tenant database if missing and applies the tenant
// schema. It is invoked when a tenant is registered.
func (m *Manager) Provision(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := m.ensureDatabase(ctx, m.DatabaseName(tenantID)); err != nil {
		return err
	}
	return m.runMigrations(tenantMigrations, "migrations/tenant", m.DatabaseName(tenantID))
}

// ProvisionCommons creates the shared control database and applies its schema.
func (m *Manager) ProvisionCommons(ctx context.Context) error {
	if err := m.ensureDatabase(ctx, m.CommonsDatabaseName()); err != nil {
		return err
	}
	return m.runMigrations(commonsMigrations, "migrations/commons", m.CommonsDatabaseName())
}

// ensureDatabase creates the named database through the maintenance database,
// tolerating a concurrent creation.
func (m *Manager) ensureDatabase(ctx context.Context, name string) error {
	admin, err := sqlxOpen(m.dsn("postgres"))
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "open maintenance database", err)
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(name)))
	if err != nil {
		var pqErr *pq.Error
		// 42P04: duplicate_database
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return apperr.Dependency(apperr.CodeDependency, "create database", err)
	}
	return nil
}

func (m *Manager) runMigrations(fs embed.FS, dir, database string) error {
	source, err := iofs.New(fs, dir)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, "load migrations", err)
	}
	migrator, err := migrate.NewWithSourceInstance("iofs", source, m.dsn(database))
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "init migrator", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperr.Dependency(apperr.CodeDependency, "apply migrations", err)
	}
	return nil
}
