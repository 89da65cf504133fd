package stock

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
)

// Handler exposes the stock HTTP API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the stock handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the stock API on an authenticated router. Literal
// paths are registered before the {itemCode} wildcard so "low",
// "reorder-alerts" and the snapshot surface are not captured as item codes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	base := "/tenants/{tenantId}/stores/{storeCode}/stock"

	r.HandleFunc(base, h.list).Methods(http.MethodGet)
	r.HandleFunc(base+"/low", h.low).Methods(http.MethodGet)
	r.HandleFunc(base+"/reorder-alerts", h.reorderAlerts).Methods(http.MethodGet)
	r.HandleFunc(base+"/snapshot", h.createSnapshot).Methods(http.MethodPost)
	r.HandleFunc(base+"/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc(base+"/snapshot/{snapshotId}", h.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc(base+"/snapshot-schedule", h.getSchedule).Methods(http.MethodGet)
	r.HandleFunc(base+"/snapshot-schedule", h.setSchedule).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc(base+"/snapshot-schedule", h.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc(base+"/{itemCode}", h.get).Methods(http.MethodGet)
	r.HandleFunc(base+"/{itemCode}/update", h.update).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc(base+"/{itemCode}/history", h.history).Methods(http.MethodGet)
	r.HandleFunc(base+"/{itemCode}/minimum", h.setMinimum).Methods(http.MethodPut)
	r.HandleFunc(base+"/{itemCode}/reorder", h.setReorder).Methods(http.MethodPut)
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	const op = "stock.list"
	vars := mux.Vars(r)
	limit, offset := pagination(r)
	rows, total, err := h.svc.List(r.Context(), vars["tenantId"], vars["storeCode"], limit, offset)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccessMeta(w, http.StatusOK, op, rows, map[string]interface{}{"total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	const op = "stock.get"
	vars := mux.Vars(r)
	row, err := h.svc.Get(r.Context(), vars["tenantId"], vars["storeCode"], vars["itemCode"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, row)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	const op = "stock.update"
	var req UpdateRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	if req.OperatorID == "" {
		if caller, ok := auth.CallerFrom(r.Context()); ok {
			req.OperatorID = caller.UserID
		}
	}
	row, audit, err := h.svc.Update(r.Context(), vars["tenantId"], vars["storeCode"], vars["itemCode"], req)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, map[string]interface{}{
		"stock":  row,
		"update": audit,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	const op = "stock.history"
	vars := mux.Vars(r)
	limit, offset := pagination(r)
	rows, total, err := h.svc.History(r.Context(), vars["tenantId"], vars["storeCode"], vars["itemCode"], limit, offset)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccessMeta(w, http.StatusOK, op, rows, map[string]interface{}{"total": total})
}

type minimumRequest struct {
	MinimumQuantity decimal.Decimal `json:"minimumQuantity"`
}

func (h *Handler) setMinimum(w http.ResponseWriter, r *http.Request) {
	const op = "stock.set_minimum"
	var req minimumRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	row, err := h.svc.SetMinimum(r.Context(), vars["tenantId"], vars["storeCode"], vars["itemCode"], req.MinimumQuantity)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, row)
}

type reorderRequest struct {
	ReorderPoint    decimal.Decimal `json:"reorderPoint"`
	ReorderQuantity decimal.Decimal `json:"reorderQuantity"`
}

func (h *Handler) setReorder(w http.ResponseWriter, r *http.Request) {
	const op = "stock.set_reorder"
	var req reorderRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	row, err := h.svc.SetReorder(r.Context(), vars["tenantId"], vars["storeCode"], vars["itemCode"], req.ReorderPoint, req.ReorderQuantity)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, row)
}

func (h *Handler) low(w http.ResponseWriter, r *http.Request) {
	const op = "stock.low"
	vars := mux.Vars(r)
	rows, err := h.svc.LowStock(r.Context(), vars["tenantId"], vars["storeCode"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, rows)
}

func (h *Handler) reorderAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "stock.reorder_alerts"
	vars := mux.Vars(r)
	rows, err := h.svc.ReorderAlerts(r.Context(), vars["tenantId"], vars["storeCode"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, rows)
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "stock.create_snapshot"
	vars := mux.Vars(r)
	createdBy := "manual"
	if caller, ok := auth.CallerFrom(r.Context()); ok && caller.UserID != "" {
		createdBy = caller.UserID
	}
	snap, err := h.svc.CreateSnapshot(r.Context(), vars["tenantId"], vars["storeCode"], createdBy)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, snap)
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	const op = "stock.list_snapshots"
	vars := mux.Vars(r)
	limit, offset := pagination(r)
	snaps, total, err := h.svc.ListSnapshots(r.Context(), vars["tenantId"], vars["storeCode"], limit, offset)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccessMeta(w, http.StatusOK, op, snaps, map[string]interface{}{"total": total})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "stock.get_snapshot"
	vars := mux.Vars(r)
	snap, err := h.svc.GetSnapshot(r.Context(), vars["tenantId"], vars["snapshotId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, snap)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "stock.get_schedule"
	sched, err := h.svc.GetSchedule(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, sched)
}

func (h *Handler) setSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "stock.set_schedule"
	var req Schedule
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	sched, err := h.svc.SetSchedule(r.Context(), mux.Vars(r)["tenantId"], req)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, sched)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "stock.delete_schedule"
	if err := h.svc.DeleteSchedule(r.Context(), mux.Vars(r)["tenantId"]); err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, nil)
}
