package terminal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// receiptWidth is the character width of the thermal printer format.
const receiptWidth = 32

// Formatter renders the receipt and journal text carried on cash and
// open/close events. Output is deterministic for a given input.
type Formatter struct{}

func center(s string) string {
	if len(s) >= receiptWidth {
		return s
	}
	pad := (receiptWidth - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

func amountLine(label string, amount decimal.Decimal) string {
	value := amount.StringFixed(2)
	gap := receiptWidth - len(label) - len(value)
	if gap < 1 {
		gap = 1
	}
	return label + strings.Repeat(" ", gap) + value
}

func rule() string {
	return strings.Repeat("-", receiptWidth)
}

// CashReceipt renders the customer-facing receipt for a cash movement.
func (Formatter) CashReceipt(terminalID, direction string, amount decimal.Decimal, reason string, at time.Time) string {
	title := "CASH IN"
	if direction == CashDirectionOut {
		title = "CASH OUT"
	}

	lines := []string{
		center(title),
		rule(),
		"Terminal: " + terminalID,
		"Date: " + at.UTC().Format("2006-01-02 15:04:05"),
		rule(),
		amountLine("Amount", amount),
	}
	if reason != "" {
		lines = append(lines, "Reason: "+reason)
	}
	lines = append(lines, rule())
	return strings.Join(lines, "\n")
}

// CashJournal renders the journal record for a cash movement.
func (Formatter) CashJournal(terminalID, direction string, amount decimal.Decimal, reason, note, operatorID string, at time.Time) string {
	title := "CASH IN"
	if direction == CashDirectionOut {
		title = "CASH OUT"
	}

	lines := []string{
		fmt.Sprintf("[%s] %s", title, at.UTC().Format("2006-01-02 15:04:05")),
		"Terminal: " + terminalID,
		"Operator: " + operatorID,
		amountLine("Amount", amount),
	}
	if reason != "" {
		lines = append(lines, "Reason: "+reason)
	}
	if note != "" {
		lines = append(lines, "Note: "+note)
	}
	return strings.Join(lines, "\n")
}

// OpenReceipt renders the terminal-open report.
func (Formatter) OpenReceipt(terminalID, businessDate string, openCounter int64, initialAmount decimal.Decimal, staffID string, at time.Time) string {
	lines := []string{
		center("OPEN TERMINAL"),
		rule(),
		"Terminal: " + terminalID,
		"Business date: " + businessDate,
		fmt.Sprintf("Open count: %d", openCounter),
		"Staff: " + staffID,
		"Time: " + at.UTC().Format("15:04:05"),
		rule(),
		amountLine("Initial amount", initialAmount),
		rule(),
	}
	return strings.Join(lines, "\n")
}

// CloseReceipt renders the terminal-close report with drawer reconciliation.
func (Formatter) CloseReceipt(terminalID, businessDate string, initialAmount, expected decimal.Decimal, physical decimal.NullDecimal, staffID string, at time.Time) string {
	lines := []string{
		center("CLOSE TERMINAL"),
		rule(),
		"Terminal: " + terminalID,
		"Business date: " + businessDate,
		"Staff: " + staffID,
		"Time: " + at.UTC().Format("15:04:05"),
		rule(),
		amountLine("Initial amount", initialAmount),
		amountLine("Expected amount", expected),
	}
	if physical.Valid {
		lines = append(lines,
			amountLine("Physical amount", physical.Decimal),
			amountLine("Difference", physical.Decimal.Sub(expected)),
		)
	}
	lines = append(lines, rule())
	return strings.Join(lines, "\n")
}
