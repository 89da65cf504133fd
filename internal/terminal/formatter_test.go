package terminal

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCashReceiptDeterministic(t *testing.T) {
	var f Formatter
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	first := f.CashReceipt("A1234-store001-001", CashDirectionIn, dec("200.00"), "float", at)
	second := f.CashReceipt("A1234-store001-001", CashDirectionIn, dec("200.00"), "float", at)
	if first != second {
		t.Fatal("receipt text must be deterministic for identical input")
	}
	if !strings.Contains(first, "CASH IN") {
		t.Fatalf("missing title:\n%s", first)
	}
	if !strings.Contains(first, "200.00") {
		t.Fatalf("missing amount:\n%s", first)
	}

	out := f.CashReceipt("A1234-store001-001", CashDirectionOut, dec("50.00"), "", at)
	if !strings.Contains(out, "CASH OUT") {
		t.Fatalf("missing cash out title:\n%s", out)
	}
	if strings.Contains(out, "Reason:") {
		t.Fatal("empty reason must not render a reason line")
	}
}

func TestCashJournalCarriesOperator(t *testing.T) {
	var f Formatter
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	text := f.CashJournal("A1234-store001-001", CashDirectionOut, dec("50.00"), "bank run", "sealed bag", "S001", at)
	for _, want := range []string{"CASH OUT", "S001", "bank run", "sealed bag", "50.00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("journal missing %q:\n%s", want, text)
		}
	}
}

func TestCloseReceiptReconciliation(t *testing.T) {
	var f Formatter
	at := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)

	text := f.CloseReceipt("A1234-store001-001", "2025-06-01", dec("500.00"), dec("600.00"),
		decimal.NewNullDecimal(dec("590.00")), "S001", at)
	for _, want := range []string{"CLOSE TERMINAL", "500.00", "600.00", "590.00", "-10.00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("close receipt missing %q:\n%s", want, text)
		}
	}

	noPhysical := f.CloseReceipt("A1234-store001-001", "2025-06-01", dec("500.00"), dec("600.00"),
		decimal.NullDecimal{}, "S001", at)
	if strings.Contains(noPhysical, "Physical amount") {
		t.Fatal("missing physical amount must omit the reconciliation lines")
	}
}
