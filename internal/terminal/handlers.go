package terminal

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Handler exposes the terminal HTTP API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the terminal handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the terminal API on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tenants/{tenantId}/terminals", h.create).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals", h.list).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/sign-in", h.signIn).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/sign-out", h.signOut).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/open", h.open).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/close", h.close).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/cash-in", h.cashIn).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/cash-out", h.cashOut).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/function_mode", h.functionMode).Methods(http.MethodPatch, http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/terminals/{terminalId}/description", h.description).Methods(http.MethodPatch, http.MethodPost)
}

type createRequest struct {
	StoreCode   string `json:"storeCode"`
	TerminalNo  int    `json:"terminalNo"`
	Description string `json:"description"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.create"
	var req createRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	result, err := h.svc.Create(r.Context(), mux.Vars(r)["tenantId"], req.StoreCode, req.TerminalNo, req.Description)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.list"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	terminals, total, err := h.svc.List(r.Context(), mux.Vars(r)["tenantId"], r.URL.Query().Get("storeCode"), limit, offset)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccessMeta(w, http.StatusOK, op, terminals, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.get"
	vars := mux.Vars(r)
	t, err := h.svc.Get(r.Context(), vars["tenantId"], vars["terminalId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.delete"
	vars := mux.Vars(r)
	if err := h.svc.Delete(r.Context(), vars["tenantId"], vars["terminalId"]); err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, nil)
}

type signInRequest struct {
	StaffID   string `json:"staffId"`
	StaffName string `json:"staffName"`
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.sign_in"
	var req signInRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.SignIn(r.Context(), vars["tenantId"], vars["terminalId"], req.StaffID, req.StaffName)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.sign_out"
	vars := mux.Vars(r)
	t, err := h.svc.SignOut(r.Context(), vars["tenantId"], vars["terminalId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

type openRequest struct {
	BusinessDate  string          `json:"businessDate"`
	InitialAmount decimal.Decimal `json:"initialAmount"`
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.open"
	var req openRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.Open(r.Context(), vars["tenantId"], vars["terminalId"], req.BusinessDate, req.InitialAmount)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

type closeRequest struct {
	PhysicalAmount *decimal.Decimal `json:"physicalAmount"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.close"
	var req closeRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.Close(r.Context(), vars["tenantId"], vars["terminalId"], req.PhysicalAmount)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

type cashRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Note   string          `json:"note"`
}

func (h *Handler) cashIn(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.cash_in"
	var req cashRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.CashIn(r.Context(), vars["tenantId"], vars["terminalId"], req.Amount, req.Reason, req.Note)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

func (h *Handler) cashOut(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.cash_out"
	var req cashRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.CashOut(r.Context(), vars["tenantId"], vars["terminalId"], req.Amount, req.Reason, req.Note)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

type functionModeRequest struct {
	FunctionMode string `json:"functionMode"`
}

func (h *Handler) functionMode(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.function_mode"
	var req functionModeRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.UpdateFunctionMode(r.Context(), vars["tenantId"], vars["terminalId"], req.FunctionMode)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}

type descriptionRequest struct {
	Description string `json:"description"`
}

func (h *Handler) description(w http.ResponseWriter, r *http.Request) {
	const op = "terminal.description"
	var req descriptionRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.svc.UpdateDescription(r.Context(), vars["tenantId"], vars["terminalId"], req.Description)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, t)
}
