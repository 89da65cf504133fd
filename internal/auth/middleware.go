package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// TerminalKeyVerifier checks a presented API key against the key bound to a
// terminal. Implemented by the terminal store; the cart and stock services
// use that store against the shared tenant database.
type TerminalKeyVerifier interface {
	VerifyTerminalKey(ctx context.Context, terminal TerminalID, presentedKey string) error
}

// Middleware authenticates requests with either a bearer JWT or an API key
// plus terminal_id query parameter, and enforces tenant isolation against the
// {tenantId} path variable. Cross-tenant requests answer 404 so tenant
// existence never leaks.
func Middleware(broker *Broker, verifier TerminalKeyVerifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authenticate(r, broker, verifier)
			if err != nil {
				httputil.WriteError(w, r, "authenticate", err)
				return
			}

			if pathTenant := mux.Vars(r)["tenantId"]; pathTenant != "" && pathTenant != caller.TenantID {
				httputil.WriteError(w, r, "authenticate",
					apperr.NotFound(apperr.CodeNotFound, "resource not found"))
				return
			}

			ctx := WithCaller(r.Context(), caller)
			ctx = logging.WithTenantID(ctx, caller.TenantID)
			if caller.TerminalID != "" {
				ctx = logging.WithTerminalID(ctx, caller.TerminalID)
			}
			if caller.UserID != "" {
				ctx = logging.WithUserID(ctx, caller.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, broker *Broker, verifier TerminalKeyVerifier) (Caller, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && verifier != nil {
		terminalID := r.URL.Query().Get("terminal_id")
		if terminalID == "" {
			return Caller{}, apperr.Authentication(CodeInvalidAPIKey, "terminal_id query parameter is required with X-API-Key")
		}
		parsed, err := ParseTerminalID(terminalID)
		if err != nil {
			return Caller{}, err
		}
		if err := verifier.VerifyTerminalKey(r.Context(), parsed, apiKey); err != nil {
			return Caller{}, err
		}
		return Caller{
			TenantID:   parsed.TenantID,
			TerminalID: parsed.String(),
			StoreCode:  parsed.StoreCode,
			TerminalNo: parsed.TerminalNo,
		}, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return Caller{}, apperr.Authentication(CodeInvalidToken, "missing authorization")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Caller{}, apperr.Authentication(CodeInvalidToken, "invalid authorization header")
	}

	claims, err := broker.Validate(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return Caller{}, err
	}
	return Caller{
		TenantID:    claims.TenantID,
		UserID:      claims.Subject,
		IsSuperuser: claims.IsSuperuser,
	}, nil
}
