package report

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Handler exposes the report query API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the report handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the report API on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tenants/{tenantId}/stores/{storeCode}/reports/sales", h.sales).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{tenantId}/stores/{storeCode}/reports/cash", h.cash).Methods(http.MethodGet)
}

func (h *Handler) sales(w http.ResponseWriter, r *http.Request) {
	const op = "report.sales"
	businessDate := r.URL.Query().Get("businessDate")
	if businessDate == "" {
		httputil.WriteError(w, r, op, apperr.Validation(apperr.CodeValidation, "businessDate is required"))
		return
	}
	vars := mux.Vars(r)
	report, err := h.svc.Sales(r.Context(), vars["tenantId"], vars["storeCode"], businessDate)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, report)
}

func (h *Handler) cash(w http.ResponseWriter, r *http.Request) {
	const op = "report.cash"
	businessDate := r.URL.Query().Get("businessDate")
	if businessDate == "" {
		httputil.WriteError(w, r, op, apperr.Validation(apperr.CodeValidation, "businessDate is required"))
		return
	}
	vars := mux.Vars(r)
	report, err := h.svc.Cash(r.Context(), vars["tenantId"], vars["storeCode"], businessDate)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, report)
}
