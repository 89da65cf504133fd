package eventbus

import (
	"net/http"

	"github.com/openretail/pos-service-layer/infrastructure/httputil"
)

// IngressHandler exposes a bus handler as an HTTP endpoint. This is the
// delivery route used by sidecar-style pub/sub (and by operators replaying
// dead-lettered events): the body is one Event, a 2xx acks it, anything else
// nacks and lets the caller redeliver.
func IngressHandler(operation string, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event Event
		if !httputil.DecodeJSON(w, r, operation, &event) {
			return
		}
		if err := handler(r.Context(), event); err != nil {
			httputil.WriteError(w, r, operation, err)
			return
		}
		httputil.WriteSuccess(w, http.StatusOK, operation, nil)
	}
}
