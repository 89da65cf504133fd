package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{Authentication(10001, "bad token"), http.StatusUnauthorized},
		{Authorization(90006, "forbidden"), http.StatusForbidden},
		{Validation(90004, "bad field"), http.StatusBadRequest},
		{NotFound(90007, "missing"), http.StatusNotFound},
		{Conflict(90003, "etag"), http.StatusConflict},
		{InvalidState(20003, "bad transition"), http.StatusConflict},
		{Dependency(90002, "bus down", nil), http.StatusServiceUnavailable},
		{Internal(90001, "bug", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.err.Kind, tc.status, got)
		}
	}
}

func TestFromUnwrapsChains(t *testing.T) {
	inner := Conflict(90003, "etag mismatch")
	wrapped := fmt.Errorf("save failed: %w", inner)

	extracted := From(wrapped)
	if extracted == nil || extracted.Code != 90003 {
		t.Fatalf("From must unwrap the chain, got %+v", extracted)
	}
	if !IsKind(wrapped, KindConflict) {
		t.Fatal("IsKind must see through wrapping")
	}
	if IsKind(errors.New("plain"), KindConflict) {
		t.Fatal("plain errors carry no kind")
	}
}

func TestErrorStringAndDetails(t *testing.T) {
	err := Validation(90004, "bad payload").WithDetails("field", "amount").WithCause(errors.New("parse"))
	if err.Error() == "" {
		t.Fatal("error string must not be empty")
	}
	if err.Details["field"] != "amount" {
		t.Fatalf("details lost: %+v", err.Details)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("cause must unwrap")
	}
}
