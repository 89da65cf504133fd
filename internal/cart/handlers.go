package cart

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
)

// Handler exposes the cart HTTP API.
type Handler struct {
	svc *Service
	log *logging.Logger
}

// NewHandler creates the cart handler.
func NewHandler(svc *Service, log *logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts the cart API on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tenants/{tenantId}/carts", h.create).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/lineItems", h.addItem).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/lineItems/{lineNo}/cancel", h.cancelLineItem).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/lineItems/{lineNo}/discounts", h.addLineDiscount).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/subtotal", h.subtotal).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/back", h.back).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/discounts", h.addOrderDiscount).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/payments", h.addPayment).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/complete", h.complete).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/cancel", h.cancel).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{tenantId}/carts/{cartId}/resume", h.resume).Methods(http.MethodPost)
}

// callerTerminal returns the terminal identity bound to the request's API
// key, or empty for user tokens (which bypass the ownership check).
func callerTerminal(r *http.Request) string {
	if caller, ok := auth.CallerFrom(r.Context()); ok {
		return caller.TerminalID
	}
	return ""
}

type createCartRequest struct {
	TerminalID      string `json:"terminalId"`
	TransactionType string `json:"transactionType"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	const op = "cart.create"
	var req createCartRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	terminalID := req.TerminalID
	if ct := callerTerminal(r); ct != "" {
		terminalID = ct
	}
	c, err := h.svc.Create(r.Context(), mux.Vars(r)["tenantId"], terminalID, req.TransactionType)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, op, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	const op = "cart.get"
	vars := mux.Vars(r)
	c, err := h.svc.Get(r.Context(), vars["tenantId"], vars["cartId"])
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

type addItemRequest struct {
	ItemCode  string           `json:"itemCode"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	const op = "cart.add_item"
	var req addItemRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.svc.AddItem(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r), req.ItemCode, req.Quantity, req.UnitPrice)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

func (h *Handler) cancelLineItem(w http.ResponseWriter, r *http.Request) {
	const op = "cart.cancel_line_item"
	vars := mux.Vars(r)
	lineNo := atoiOrZero(vars["lineNo"])
	c, err := h.svc.CancelLineItem(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r), lineNo)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

type discountRequest struct {
	Type   string          `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Reason string          `json:"reason"`
}

func (h *Handler) addLineDiscount(w http.ResponseWriter, r *http.Request) {
	const op = "cart.add_line_discount"
	var req discountRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.svc.AddLineItemDiscount(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r),
		atoiOrZero(vars["lineNo"]), Discount{Type: req.Type, Value: req.Value, Reason: req.Reason})
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

func (h *Handler) subtotal(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.subtotal", h.svc.Subtotal)
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.back", h.svc.Back)
}

func (h *Handler) addOrderDiscount(w http.ResponseWriter, r *http.Request) {
	const op = "cart.add_order_discount"
	var req discountRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.svc.AddOrderDiscount(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r),
		Discount{Type: req.Type, Value: req.Value, Reason: req.Reason})
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

type paymentRequest struct {
	PaymentCode string          `json:"paymentCode"`
	Amount      decimal.Decimal `json:"amount"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	const op = "cart.add_payment"
	var req paymentRequest
	if !httputil.DecodeJSON(w, r, op, &req) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.svc.AddPayment(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r), req.PaymentCode, req.Amount)
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.complete", h.svc.Complete)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.cancel", h.svc.Cancel)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.pause", h.svc.Pause)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "cart.resume", h.svc.Resume)
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error)) {
	vars := mux.Vars(r)
	c, err := fn(r.Context(), vars["tenantId"], vars["cartId"], callerTerminal(r))
	if err != nil {
		httputil.WriteError(w, r, op, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, op, c)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
