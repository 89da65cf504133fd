package document

import (
	"context"
	"testing"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

func TestValidateTenantID(t *testing.T) {
	valid := []string{"A1234", "Z0000", "B5678"}
	for _, id := range valid {
		if err := ValidateTenantID(id); err != nil {
			t.Fatalf("%q must be valid: %v", id, err)
		}
	}

	invalid := []string{"", "a1234", "A123", "A12345", "AB123", "12345", "A12 4"}
	for _, id := range invalid {
		if err := ValidateTenantID(id); err == nil {
			t.Fatalf("%q must be rejected", id)
		}
	}
}

func TestDatabaseNaming(t *testing.T) {
	m := NewManager(Config{Prefix: "pos"}, nil)
	if got := m.DatabaseName("A1234"); got != "pos_a1234" {
		t.Fatalf("expected pos_a1234, got %s", got)
	}
	if got := m.CommonsDatabaseName(); got != "pos_commons" {
		t.Fatalf("expected pos_commons, got %s", got)
	}
}

func TestWithCASRetryRetriesConflicts(t *testing.T) {
	attempts := 0
	err := WithCASRetry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return apperr.Conflict(apperr.CodeConflict, "etag mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithCASRetryGivesUp(t *testing.T) {
	attempts := 0
	err := WithCASRetry(context.Background(), func(context.Context) error {
		attempts++
		return apperr.Conflict(apperr.CodeConflict, "etag mismatch")
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected surfaced conflict, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("retries must be bounded at 3, got %d", attempts)
	}
}

func TestWithCASRetryDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	err := WithCASRetry(context.Background(), func(context.Context) error {
		attempts++
		return apperr.NotFound(apperr.CodeNotFound, "missing")
	})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("non-conflict errors must not retry, got %d attempts", attempts)
	}
}
