// Package httputil provides common HTTP utilities for POS service handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Envelope is the common response envelope returned by every non-OAuth
// endpoint. Data carries no omitempty tag, so a nil value is emitted as an
// explicit null for error responses rather than the field being omitted.
type Envelope struct {
	Success   bool                   `json:"success"`
	Code      int                    `json:"code"`
	Message   string                 `json:"message"`
	Data      interface{}            `json:"data"`
	Operation string                 `json:"operation"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteSuccess writes the success envelope around data.
func WriteSuccess(w http.ResponseWriter, status int, operation string, data interface{}) {
	WriteJSON(w, status, Envelope{
		Success:   true,
		Code:      status,
		Message:   "success",
		Data:      data,
		Operation: operation,
	})
}

// WriteSuccessMeta writes the success envelope with pagination or other metadata.
func WriteSuccessMeta(w http.ResponseWriter, status int, operation string, data interface{}, metadata map[string]interface{}) {
	WriteJSON(w, status, Envelope{
		Success:   true,
		Code:      status,
		Message:   "success",
		Data:      data,
		Operation: operation,
		Metadata:  metadata,
	})
}

// WriteError maps an error onto the envelope. Structured apperr errors keep
// their stable code and message; anything else becomes an opaque 500 so no
// internals cross the boundary.
func WriteError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if appErr := apperr.From(err); appErr != nil {
		env := Envelope{
			Success:   false,
			Code:      appErr.Code,
			Message:   appErr.Message,
			Data:      nil,
			Operation: operation,
		}
		if len(appErr.Details) > 0 {
			env.Metadata = appErr.Details
		}
		WriteJSON(w, appErr.HTTPStatus(), env)
		return
	}

	defaultLogger.WithContext(r.Context()).WithError(err).Error("unhandled handler error")
	WriteJSON(w, http.StatusInternalServerError, Envelope{
		Success:   false,
		Code:      apperr.CodeInternal,
		Message:   "internal server error",
		Data:      nil,
		Operation: operation,
	})
}

// DecodeJSON decodes the request body into dst. On failure it writes a
// validation error response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, operation string, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		WriteError(w, r, operation, apperr.Validation(apperr.CodeValidation, "invalid request body").WithCause(err))
		return false
	}
	return true
}
