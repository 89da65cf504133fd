package account

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
)

// Handler exposes the account HTTP API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the account handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterPublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/token", h.token).Methods(http.MethodPost)
	r.HandleFunc("/accounts/register", h.registerTenant).Methods(http.MethodPost)
}

// RegisterProtectedRoutes mounts the endpoints requiring a superuser token.
func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/register/user", h.registerUser).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}", h.deleteTenant).Methods(http.MethodDelete)
}

type tokenRequest struct {
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	const op = "account.token"
	var req tokenRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	token, err := h.svc.IssueToken(r.Context(), req.TenantID, req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, token)
}

type registerTenantRequest struct {
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerTenant(w http.ResponseWriter, r *http.Request) {
	const op = "account.register"
	var req registerTenantRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	tenant, user, err := h.svc.RegisterTenant(r.Context(), req.TenantID, req.Name, req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, map[string]interface{}{
		"tenant": tenant,
		"user":   user,
	})
}

type registerUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	const op = "account.register_user"
	caller, ok := auth.CallerFrom(r.Context())
	if !ok || !caller.IsSuperuser {
		httputil.WriteError(w, r, op, apperr.Authorization(apperr.CodeForbidden, "superuser required"))
		return
	}
	var req registerUserRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	user, err := h.svc.RegisterUser(r.Context(), caller.TenantID, req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, user)
}

func (h *Handler) deleteTenant(w http.ResponseWriter, r *http.Request) {
	const op = "account.delete_tenant"
	caller, ok := auth.CallerFrom(r.Context())
	if !ok || !caller.IsSuperuser {
		httputil.WriteError(w, r, op, apperr.Authorization(apperr.CodeForbidden, "superuser required"))
		return
	}
	if err := h.svc.DeleteTenant(r.Context(), mux.Vars(r)["tenantId"]); err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, nil)
}
