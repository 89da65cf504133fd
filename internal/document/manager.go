// Package document implements the tenant-scoped persistence layer. Every
// tenant owns one logical database named {prefix}_{tenantId}; services obtain
// a handle through the Manager, which caps the number of cached handles and
// recycles the least recently used one when the cap is exceeded.
package document

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// tenantIDPattern is one uppercase letter followed by four digits.
var tenantIDPattern = regexp.MustCompile(`^[A-Z][0-9]{4}$`)

// ValidateTenantID reports whether id is a well-formed tenant identifier.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return apperr.Validation(apperr.CodeValidation, "tenantId must be one letter followed by four digits")
	}
	return nil
}

// Config holds the Postgres connection parameters shared by all tenants.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string
	PoolMax  int
	PoolMin  int
	CacheMax int
}

// Manager hands out per-tenant database handles.
type Manager struct {
	cfg Config
	log *logging.Logger

	mu      sync.Mutex
	handles map[string]*handleEntry
}

type handleEntry struct {
	db       *sqlx.DB
	lastUsed time.Time
}

// NewManager creates a tenant database manager.
func NewManager(cfg Config, log *logging.Logger) *Manager {
	if cfg.PoolMax <= 0 {
		cfg.PoolMax = 100
	}
	if cfg.PoolMin <= 0 {
		cfg.PoolMin = 10
	}
	if cfg.CacheMax <= 0 {
		cfg.CacheMax = 64
	}
	if log == nil {
		log = logging.NewFromEnv("document")
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		handles: make(map[string]*handleEntry),
	}
}

// DatabaseName returns the logical database name for a tenant.
func (m *Manager) DatabaseName(tenantID string) string {
	return fmt.Sprintf("%s_%s", m.cfg.Prefix, strings.ToLower(tenantID))
}

func (m *Manager) dsn(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		m.cfg.User, m.cfg.Password, m.cfg.Host, m.cfg.Port, database)
}

// Handle returns the connection pool for a tenant's database, opening it on
// first use. Handles are cached per process; the cache is LRU-capped.
func (m *Manager) Handle(tenantID string) (*sqlx.DB, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.handles[tenantID]; ok {
		entry.lastUsed = time.Now()
		return entry.db, nil
	}

	db, err := sqlx.Open("postgres", m.dsn(m.DatabaseName(tenantID)))
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "open tenant database", err)
	}
	db.SetMaxOpenConns(m.cfg.PoolMax)
	db.SetMaxIdleConns(m.cfg.PoolMin)
	db.SetConnMaxIdleTime(5 * time.Minute)

	m.evictLocked()
	m.handles[tenantID] = &handleEntry{db: db, lastUsed: time.Now()}
	return db, nil
}

// evictLocked closes the least recently used handle once the cache is full.
func (m *Manager) evictLocked() {
	if len(m.handles) < m.cfg.CacheMax {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, entry := range m.handles {
		if id == commonsKey {
			continue
		}
		if oldestID == "" || entry.lastUsed.Before(oldest) {
			oldestID = id
			oldest = entry.lastUsed
		}
	}
	if oldestID != "" {
		entry := m.handles[oldestID]
		delete(m.handles, oldestID)
		if err := entry.db.Close(); err != nil {
			m.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": oldestID}).Warn("close evicted tenant handle")
		}
	}
}

// Close closes every cached handle.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.handles {
		if err := entry.db.Close(); err != nil {
			m.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": id}).Warn("close tenant handle")
		}
		delete(m.handles, id)
	}
}

// Ping verifies connectivity for a tenant database.
func (m *Manager) Ping(ctx context.Context, tenantID string) error {
	db, err := m.Handle(tenantID)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "ping tenant database", err)
	}
	return nil
}
