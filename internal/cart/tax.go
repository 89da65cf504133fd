package cart

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/internal/master"
)

var decimalHundred = decimal.NewFromInt(100)

// roundTax applies the tax master's rounding rule. roundDigit is the number
// of fractional digits kept.
func roundTax(amount decimal.Decimal, roundDigit int, method string) decimal.Decimal {
	places := int32(roundDigit)
	switch method {
	case master.RoundMethodFloor:
		return amount.RoundFloor(places)
	case master.RoundMethodCeil:
		return amount.RoundCeil(places)
	default:
		return amount.Round(places)
	}
}

// computeTaxes groups the active lines by tax code, computes each group's tax
// with its configured rounding, and returns the tax lines plus the grand tax
// amount. Group taxes are summed without a second rounding stage.
//
// Exclusive tax is added on top of the group amount; inclusive tax is carved
// out of it (amount · rate / (100 + rate)); exempt groups carry zero.
func computeTaxes(lines []LineItem, taxes taxTable) ([]TaxLine, decimal.Decimal, error) {
	groups := make(map[string]decimal.Decimal)
	for _, line := range lines {
		if line.Cancelled {
			continue
		}
		groups[line.TaxCode] = groups[line.TaxCode].Add(line.Amount)
	}

	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	taxLines := make([]TaxLine, 0, len(codes))
	grandTax := decimal.Zero
	for _, code := range codes {
		rule, ok := taxes[code]
		if !ok {
			return nil, decimal.Zero, apperr.NotFound(master.CodeTaxNotFound, "tax code not found").WithDetails("taxCode", code)
		}

		target := groups[code]
		var tax decimal.Decimal
		switch rule.TaxType {
		case master.TaxTypeExempt:
			tax = decimal.Zero
		case master.TaxTypeInclusive:
			tax = roundTax(target.Mul(rule.Rate).Div(decimalHundred.Add(rule.Rate)), rule.RoundDigit, rule.RoundMethod)
		default: // exclusive
			tax = roundTax(target.Mul(rule.Rate).Div(decimalHundred), rule.RoundDigit, rule.RoundMethod)
		}

		taxLines = append(taxLines, TaxLine{
			TaxCode:      code,
			Rate:         rule.Rate,
			TaxType:      rule.TaxType,
			TargetAmount: target,
			TaxAmount:    tax,
		})
		grandTax = grandTax.Add(tax)
	}
	return taxLines, grandTax, nil
}

// lineAmount computes a line's after-discount amount: quantity · unitPrice
// minus its resolved discounts. The result is not floored at zero.
func lineAmount(line LineItem) decimal.Decimal {
	gross := line.Quantity.Mul(line.UnitPrice)
	net := gross.Sub(line.DiscountTotal())
	return net
}

// resolveDiscount turns a requested discount into its resolved amount
// against base.
func resolveDiscount(d Discount, base decimal.Decimal) (Discount, error) {
	switch d.Type {
	case DiscountTypeAmount:
		if d.Value.IsNegative() {
			return Discount{}, apperr.Validation(CodeInvalidDiscount, "discount amount must not be negative")
		}
		d.Amount = d.Value
	case DiscountTypePercent:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimalHundred) {
			return Discount{}, apperr.Validation(CodeInvalidDiscount, "discount percent must be between 0 and 100")
		}
		d.Amount = base.Mul(d.Value).Div(decimalHundred).Round(2)
	default:
		return Discount{}, apperr.Validation(CodeInvalidDiscount, "unknown discount type")
	}
	return d, nil
}

// recalculate restores the money identities after any mutation:
//
//	lineTotal = Σ active line amounts
//	taxAmount = Σ exclusive group taxes
//	total     = lineTotal + taxAmount − orderDiscounts
//	balance   = total − Σ payments
//
// Inclusive taxes are already contained in lineTotal; they are reported in
// IncludedTaxAmount and in the per-group tax lines without contributing to
// the total again.
func (c *Cart) recalculate(taxes taxTable) error {
	for i := range c.LineItems {
		c.LineItems[i].Amount = lineAmount(c.LineItems[i])
	}

	lineTotal := decimal.Zero
	for _, l := range c.ActiveLines() {
		lineTotal = lineTotal.Add(l.Amount)
	}
	c.LineTotal = lineTotal

	taxLines, _, err := computeTaxes(c.LineItems, taxes)
	if err != nil {
		return err
	}
	c.Taxes = taxLines

	exclusiveTax := decimal.Zero
	includedTax := decimal.Zero
	for _, t := range taxLines {
		if t.TaxType == master.TaxTypeInclusive {
			includedTax = includedTax.Add(t.TaxAmount)
		} else if t.TaxType != master.TaxTypeExempt {
			exclusiveTax = exclusiveTax.Add(t.TaxAmount)
		}
	}
	c.TaxAmount = exclusiveTax
	c.IncludedTaxAmount = includedTax

	orderDiscount := decimal.Zero
	for _, d := range c.OrderDiscounts {
		orderDiscount = orderDiscount.Add(d.Amount)
	}
	c.OrderDiscountTotal = orderDiscount

	c.Total = lineTotal.Add(exclusiveTax).Sub(orderDiscount)

	deposit := decimal.Zero
	for _, p := range c.Payments {
		deposit = deposit.Add(p.Amount)
	}
	c.DepositTotal = deposit
	c.Balance = c.Total.Sub(deposit)
	return nil
}
