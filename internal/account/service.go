package account

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
	"github.com/openretail/pos-service-layer/internal/document"
)

// Service wraps registration and token issuance.
type Service struct {
	store  *PostgresStore
	mgr    *document.Manager
	broker *auth.Broker
	log    *logging.Logger
}

// NewService creates an account service.
func NewService(store *PostgresStore, mgr *document.Manager, broker *auth.Broker, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("account")
	}
	return &Service{store: store, mgr: mgr, broker: broker, log: log}
}

// RegisterTenant creates the tenant, provisions its database and bootstraps
// the superuser.
func (s *Service) RegisterTenant(ctx context.Context, tenantID, name, username, password string) (Tenant, User, error) {
	if err := document.ValidateTenantID(tenantID); err != nil {
		return Tenant{}, User{}, err
	}
	if err := checkPassword(password); err != nil {
		return Tenant{}, User{}, err
	}

	tenant, err := s.store.CreateTenant(ctx, Tenant{TenantID: tenantID, Name: name, Tags: []string{}})
	if err != nil {
		return Tenant{}, User{}, err
	}

	if err := s.mgr.Provision(ctx, tenantID); err != nil {
		return Tenant{}, User{}, err
	}

	user, err := s.createUser(ctx, tenantID, username, password, true)
	if err != nil {
		return Tenant{}, User{}, err
	}

	s.log.LogAudit(ctx, "register", "tenant", tenantID, "ok")
	return tenant, user, nil
}

// RegisterUser creates a regular user in an existing tenant.
func (s *Service) RegisterUser(ctx context.Context, tenantID, username, password string) (User, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return User{}, err
	}
	if err := checkPassword(password); err != nil {
		return User{}, err
	}
	user, err := s.createUser(ctx, tenantID, username, password, false)
	if err != nil {
		return User{}, err
	}
	s.log.LogAudit(ctx, "register", "user", user.UserID, "ok")
	return user, nil
}

func (s *Service) createUser(ctx context.Context, tenantID, username, password string, superuser bool) (User, error) {
	if username == "" {
		return User{}, apperr.Validation(apperr.CodeValidation, "username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, apperr.Internal(apperr.CodeInternal, "hash password", err)
	}
	return s.store.CreateUser(ctx, User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		TenantID:     tenantID,
		IsSuperuser:  superuser,
		IsActive:     true,
	})
}

// DeleteTenant removes a tenant. Blocked while the tenant still owns
// terminals.
func (s *Service) DeleteTenant(ctx context.Context, tenantID string) error {
	count, err := s.store.TerminalCount(ctx, tenantID)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperr.InvalidState(CodeTenantHasTerminals, "tenant still owns terminals")
	}
	if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}
	s.log.LogAudit(ctx, "delete", "tenant", tenantID, "ok")
	return nil
}

// IssueToken validates the credentials and returns a signed JWT. The error
// is identical for a missing user and a wrong password.
func (s *Service) IssueToken(ctx context.Context, tenantID, username, password string) (Token, error) {
	badCredentials := apperr.Authentication(CodeBadCredentials, "invalid credentials")

	user, err := s.store.GetUserByUsername(ctx, tenantID, username)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return Token{}, badCredentials
		}
		return Token{}, err
	}
	if !user.IsActive {
		return Token{}, badCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, badCredentials
	}

	signed, expiresAt, err := s.broker.Issue(user.UserID, user.TenantID, user.IsSuperuser, user.IsActive)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: expiresAt}, nil
}

// ListTenantIDs exposes the tenant registry for dispatchers and schedulers.
func (s *Service) ListTenantIDs(ctx context.Context) ([]string, error) {
	return s.store.ListTenantIDs(ctx)
}

func checkPassword(password string) error {
	if len(password) < 8 {
		return apperr.Validation(CodeWeakPassword, "password must be at least 8 characters")
	}
	return nil
}
