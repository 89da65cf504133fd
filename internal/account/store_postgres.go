package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/internal/document"
)

// PostgresStore persists tenants and users in the commons database.
type PostgresStore struct {
	mgr *document.Manager
}

// NewPostgresStore creates the account store.
func NewPostgresStore(mgr *document.Manager) *PostgresStore {
	return &PostgresStore{mgr: mgr}
}

// CreateTenant inserts the tenant row.
func (s *PostgresStore) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return Tenant{}, err
	}

	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return Tenant{}, apperr.Internal(apperr.CodeInternal, "encode tenant tags", err)
	}
	now := time.Now().UTC()
	t.ETag = document.NewETag()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, name, tags, etag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.TenantID, t.Name, string(tags), t.ETag, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Tenant{}, apperr.Conflict(CodeTenantExists, "tenant already exists")
		}
		return Tenant{}, apperr.Dependency(apperr.CodeDependency, "insert tenant", err)
	}
	return t, nil
}

// GetTenant loads one tenant.
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return Tenant{}, err
	}

	var row struct {
		Tenant
		Tags []byte `db:"tags"`
	}
	err = db.GetContext(ctx, &row, `
		SELECT tenant_id, name, tags, etag, created_at, updated_at FROM tenants WHERE tenant_id = $1
	`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, apperr.NotFound(CodeTenantNotFound, "tenant not found")
	}
	if err != nil {
		return Tenant{}, apperr.Dependency(apperr.CodeDependency, "load tenant", err)
	}

	t := row.Tenant
	if err := json.Unmarshal(row.Tags, &t.Tags); err != nil {
		return Tenant{}, apperr.Internal(apperr.CodeInternal, "decode tenant tags", err)
	}
	return t, nil
}

// DeleteTenant removes the tenant row.
func (s *PostgresStore) DeleteTenant(ctx context.Context, tenantID string) error {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete tenant", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperr.NotFound(CodeTenantNotFound, "tenant not found")
	}
	return nil
}

// ListTenantIDs returns every registered tenant id. Shared with the outbox
// dispatcher and the snapshot scheduler.
func (s *PostgresStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := db.SelectContext(ctx, &ids, `SELECT tenant_id FROM tenants ORDER BY tenant_id`); err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "list tenants", err)
	}
	return ids, nil
}

// TerminalCount counts terminals in the tenant's own database; deletion is
// blocked while any exist.
func (s *PostgresStore) TerminalCount(ctx context.Context, tenantID string) (int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return 0, err
	}
	var count int
	if err := db.GetContext(ctx, &count, `SELECT count(*) FROM terminals`); err != nil {
		return 0, apperr.Dependency(apperr.CodeDependency, "count terminals", err)
	}
	return count, nil
}

// CreateUser inserts a user.
func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	u.ETag = document.NewETag()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, password_hash, tenant_id, is_superuser, is_active, etag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.UserID, u.Username, u.PasswordHash, u.TenantID, u.IsSuperuser, u.IsActive, u.ETag, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return User{}, apperr.Conflict(CodeUserExists, "username already taken")
		}
		return User{}, apperr.Dependency(apperr.CodeDependency, "insert user", err)
	}
	return u, nil
}

// GetUserByUsername loads a user within a tenant.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, tenantID, username string) (User, error) {
	db, err := s.mgr.CommonsHandle()
	if err != nil {
		return User{}, err
	}

	var u User
	err = db.GetContext(ctx, &u, `
		SELECT user_id, username, password_hash, tenant_id, is_superuser, is_active, etag, created_at, updated_at
		FROM users WHERE tenant_id = $1 AND username = $2
	`, tenantID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound(CodeUserNotFound, "user not found")
	}
	if err != nil {
		return User{}, apperr.Dependency(apperr.CodeDependency, "load user", err)
	}
	return u, nil
}
