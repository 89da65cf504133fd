package journal

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Handler exposes the journal query API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the journal handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the journal API on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tenants/{tenantId}/journals", h.search).Methods(http.MethodGet)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	const op = "journal.search"

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	q := Query{
		TerminalID:  r.URL.Query().Get("terminalId"),
		JournalType: r.URL.Query().Get("journalType"),
		DateFrom:    r.URL.Query().Get("dateFrom"),
		DateTo:      r.URL.Query().Get("dateTo"),
		Limit:       limit,
		Offset:      offset,
	}

	entries, total, err := h.svc.Search(r.Context(), mux.Vars(r)["tenantId"], q)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccessMeta(w, http.StatusOK, op, entries, map[string]interface{}{"total": total})
}
