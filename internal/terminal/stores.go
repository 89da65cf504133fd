package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/internal/document"
)

// Store management lives with the terminal service: terminals hang off
// stores, and a store cannot be deleted while terminals exist.

// Additional error codes for the store surface.
const (
	CodeStoreExists       = 20010
	CodeStoreHasTerminals = 20011
)

var storeCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)

// StoreRecord is one retail store within the tenant.
type StoreRecord struct {
	StoreCode    string    `json:"storeCode" db:"store_code"`
	Name         string    `json:"name" db:"name"`
	Status       string    `json:"status" db:"status"`
	BusinessDate *string   `json:"businessDate" db:"business_date"`
	Tags         []string  `json:"tags" db:"-"`
	ETag         string    `json:"etag" db:"etag"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// CreateStore registers a store.
func (s *PostgresStore) CreateStore(ctx context.Context, tenantID string, record StoreRecord) (StoreRecord, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return StoreRecord{}, err
	}

	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return StoreRecord{}, apperr.Internal(apperr.CodeInternal, "encode store tags", err)
	}
	now := time.Now().UTC()
	record.Status = "active"
	record.ETag = document.NewETag()
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO stores (store_code, name, status, tags, etag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.StoreCode, record.Name, record.Status, string(tags), record.ETag, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return StoreRecord{}, apperr.Conflict(CodeStoreExists, "store already exists")
		}
		return StoreRecord{}, apperr.Dependency(apperr.CodeDependency, "insert store", err)
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}
	return record, nil
}

// ListStores returns the tenant's stores.
func (s *PostgresStore) ListStores(ctx context.Context, tenantID string) ([]StoreRecord, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, err
	}

	type storeRow struct {
		StoreRecord
		Tags []byte `db:"tags"`
	}
	var rows []storeRow
	err = db.SelectContext(ctx, &rows, `
		SELECT store_code, name, status, to_char(business_date, 'YYYY-MM-DD') AS business_date,
		       tags, etag, created_at, updated_at
		FROM stores ORDER BY store_code
	`)
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "list stores", err)
	}

	out := make([]StoreRecord, 0, len(rows))
	for _, row := range rows {
		record := row.StoreRecord
		if err := json.Unmarshal(row.Tags, &record.Tags); err != nil {
			return nil, apperr.Internal(apperr.CodeInternal, "decode store tags", err)
		}
		out = append(out, record)
	}
	return out, nil
}

// DeleteStore removes a store with no remaining terminals.
func (s *PostgresStore) DeleteStore(ctx context.Context, tenantID, storeCode string) error {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return err
	}

	var terminals int
	if err := db.GetContext(ctx, &terminals, `SELECT count(*) FROM terminals WHERE store_code = $1`, storeCode); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "count terminals", err)
	}
	if terminals > 0 {
		return apperr.InvalidState(CodeStoreHasTerminals, "store still owns terminals")
	}

	result, err := db.ExecContext(ctx, `DELETE FROM stores WHERE store_code = $1`, storeCode)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete store", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete store", err)
	}
	if affected == 0 {
		return apperr.NotFound(CodeStoreNotFound, "store not found")
	}
	return nil
}

// Store service operations.

// storeManager returns the store-management persistence when the configured Store
// provides it.
func (s *Service) storeManager() (StoreManager, error) {
	if m, ok := s.store.(StoreManager); ok {
		return m, nil
	}
	return nil, apperr.Internal(apperr.CodeInternal, "store management is not configured", nil)
}

// CreateStore validates and registers a store.
func (s *Service) CreateStore(ctx context.Context, tenantID string, record StoreRecord) (StoreRecord, error) {
	if !storeCodePattern.MatchString(record.StoreCode) {
		return StoreRecord{}, apperr.Validation(apperr.CodeValidation, "storeCode must be alphanumeric, max 20 characters")
	}
	if record.Name == "" {
		return StoreRecord{}, apperr.Validation(apperr.CodeValidation, "name is required")
	}
	mgr, err := s.storeManager()
	if err != nil {
		return StoreRecord{}, err
	}
	created, err := mgr.CreateStore(ctx, tenantID, record)
	if err != nil {
		return StoreRecord{}, err
	}
	s.log.LogAudit(ctx, "create", "store", created.StoreCode, "ok")
	return created, nil
}

// ListStores returns the tenant's stores.
func (s *Service) ListStores(ctx context.Context, tenantID string) ([]StoreRecord, error) {
	mgr, err := s.storeManager()
	if err != nil {
		return nil, err
	}
	return mgr.ListStores(ctx, tenantID)
}

// DeleteStore removes an empty store.
func (s *Service) DeleteStore(ctx context.Context, tenantID, storeCode string) error {
	mgr, err := s.storeManager()
	if err != nil {
		return err
	}
	if err := mgr.DeleteStore(ctx, tenantID, storeCode); err != nil {
		return err
	}
	s.log.LogAudit(ctx, "delete", "store", storeCode, "ok")
	return nil
}

// StoreManager is the persistence contract for the store surface.
type StoreManager interface {
	CreateStore(ctx context.Context, tenantID string, record StoreRecord) (StoreRecord, error)
	ListStores(ctx context.Context, tenantID string) ([]StoreRecord, error)
	DeleteStore(ctx context.Context, tenantID, storeCode string) error
}

// Store handlers.

type createStoreRequest struct {
	StoreCode string   `json:"storeCode"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
}

// RegisterStoreRoutes mounts the store API on an authenticated router.
func (h *Handler) RegisterStoreRoutes(r *mux.Router) {
	r.HandleFunc("/tenants/{tenantId}/stores", h.createStore).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/stores", h.listStores).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{tenantId}/stores/{storeCode}", h.deleteStore).Methods(http.MethodDelete)
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	const op = "store.create"
	var req createStoreRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	record, err := h.svc.CreateStore(r.Context(), mux.Vars(r)["tenantId"], StoreRecord{
		StoreCode: req.StoreCode,
		Name:      req.Name,
		Tags:      req.Tags,
	})
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, record)
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	const op = "store.list"
	records, err := h.svc.ListStores(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, records)
}

func (h *Handler) deleteStore(w http.ResponseWriter, r *http.Request) {
	const op = "store.delete"
	vars := mux.Vars(r)
	if err := h.svc.DeleteStore(r.Context(), vars["tenantId"], vars["storeCode"]); err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, nil)
}
