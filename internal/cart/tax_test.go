package cart

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/internal/master"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func taxExclusive10() master.Tax {
	return master.Tax{TaxCode: "TAX_10", Rate: dec("10"), RoundDigit: 0, RoundMethod: master.RoundMethodRound, TaxType: master.TaxTypeExclusive}
}

func TestComputeTaxesExclusive(t *testing.T) {
	lines := []LineItem{
		{ItemCode: "ITEM001", Quantity: dec("2"), UnitPrice: dec("300.00"), TaxCode: "TAX_10", Amount: dec("600.00")},
	}
	taxLines, total, err := computeTaxes(lines, taxTable{"TAX_10": taxExclusive10()})
	if err != nil {
		t.Fatalf("compute taxes: %v", err)
	}
	if len(taxLines) != 1 {
		t.Fatalf("expected one tax group, got %d", len(taxLines))
	}
	if !total.Equal(dec("60")) {
		t.Fatalf("expected tax 60, got %s", total)
	}
	if !taxLines[0].TargetAmount.Equal(dec("600.00")) {
		t.Fatalf("unexpected target amount: %s", taxLines[0].TargetAmount)
	}
}

func TestComputeTaxesRounding(t *testing.T) {
	cases := []struct {
		method string
		want   string
	}{
		{master.RoundMethodRound, "33"},
		{master.RoundMethodFloor, "33"},
		{master.RoundMethodCeil, "34"},
	}
	for _, tc := range cases {
		rule := master.Tax{TaxCode: "T", Rate: dec("10"), RoundDigit: 0, RoundMethod: tc.method, TaxType: master.TaxTypeExclusive}
		lines := []LineItem{{Quantity: dec("1"), UnitPrice: dec("333"), TaxCode: "T", Amount: dec("333")}}
		_, total, err := computeTaxes(lines, taxTable{"T": rule})
		if err != nil {
			t.Fatalf("%s: %v", tc.method, err)
		}
		if !total.Equal(dec(tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.method, tc.want, total)
		}
	}
}

func TestComputeTaxesInclusiveAndExempt(t *testing.T) {
	taxes := taxTable{
		"INC": {TaxCode: "INC", Rate: dec("10"), RoundDigit: 0, RoundMethod: master.RoundMethodFloor, TaxType: master.TaxTypeInclusive},
		"EXE": {TaxCode: "EXE", Rate: dec("10"), RoundDigit: 0, RoundMethod: master.RoundMethodRound, TaxType: master.TaxTypeExempt},
	}
	lines := []LineItem{
		{Quantity: dec("1"), UnitPrice: dec("110"), TaxCode: "INC", Amount: dec("110")},
		{Quantity: dec("1"), UnitPrice: dec("100"), TaxCode: "EXE", Amount: dec("100")},
	}
	taxLines, total, err := computeTaxes(lines, taxes)
	if err != nil {
		t.Fatalf("compute taxes: %v", err)
	}
	// inclusive: 110 * 10 / 110 = 10
	if !total.Equal(dec("10")) {
		t.Fatalf("expected total tax 10, got %s", total)
	}
	for _, line := range taxLines {
		if line.TaxCode == "EXE" && !line.TaxAmount.IsZero() {
			t.Fatalf("exempt group must carry zero tax, got %s", line.TaxAmount)
		}
	}
}

func TestComputeTaxesCancelledLinesExcluded(t *testing.T) {
	lines := []LineItem{
		{Quantity: dec("2"), UnitPrice: dec("300"), TaxCode: "TAX_10", Amount: dec("600"), Cancelled: true},
	}
	_, total, err := computeTaxes(lines, taxTable{"TAX_10": taxExclusive10()})
	if err != nil {
		t.Fatalf("compute taxes: %v", err)
	}
	if !total.IsZero() {
		t.Fatalf("cancelled lines must not be taxed, got %s", total)
	}
}

func TestComputeTaxesUnknownCode(t *testing.T) {
	lines := []LineItem{{Quantity: dec("1"), UnitPrice: dec("100"), TaxCode: "MISSING", Amount: dec("100")}}
	if _, _, err := computeTaxes(lines, taxTable{}); err == nil {
		t.Fatal("expected error for unknown tax code")
	}
}

func TestRecalculateMoneyIdentity(t *testing.T) {
	c := Cart{
		LineItems: []LineItem{
			{LineNo: 1, Quantity: dec("2"), UnitPrice: dec("300.00"), TaxCode: "TAX_10"},
			{LineNo: 2, Quantity: dec("1"), UnitPrice: dec("50.00"), TaxCode: "TAX_10", Cancelled: true},
		},
		Payments:       []Payment{{PaymentCode: "CASH", Amount: dec("1000")}},
		OrderDiscounts: []Discount{{Type: DiscountTypeAmount, Value: dec("0"), Amount: dec("0")}},
	}
	if err := c.recalculate(taxTable{"TAX_10": taxExclusive10()}); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	if !c.LineTotal.Equal(dec("600.00")) {
		t.Fatalf("lineTotal: expected 600.00, got %s", c.LineTotal)
	}
	if !c.TaxAmount.Equal(dec("60")) {
		t.Fatalf("taxAmount: expected 60, got %s", c.TaxAmount)
	}
	// total = lineTotal + taxAmount - orderDiscounts
	want := c.LineTotal.Add(c.TaxAmount).Sub(c.OrderDiscountTotal)
	if !c.Total.Equal(want) {
		t.Fatalf("money identity broken: total %s, expected %s", c.Total, want)
	}
	// balance = total - payments
	if !c.Balance.Equal(c.Total.Sub(dec("1000"))) {
		t.Fatalf("balance identity broken: %s", c.Balance)
	}
}

func TestRecalculateIdentityUnderMutations(t *testing.T) {
	taxes := taxTable{
		"TAX_10": taxExclusive10(),
		"TAX_8":  {TaxCode: "TAX_8", Rate: dec("8"), RoundDigit: 0, RoundMethod: master.RoundMethodFloor, TaxType: master.TaxTypeExclusive},
	}

	c := Cart{}
	steps := []func(){
		func() {
			c.LineItems = append(c.LineItems, LineItem{LineNo: 1, Quantity: dec("3"), UnitPrice: dec("123.45"), TaxCode: "TAX_10"})
		},
		func() {
			c.LineItems = append(c.LineItems, LineItem{LineNo: 2, Quantity: dec("1.5"), UnitPrice: dec("80.00"), TaxCode: "TAX_8"})
		},
		func() {
			c.LineItems[0].Discounts = append(c.LineItems[0].Discounts, Discount{Type: DiscountTypeAmount, Value: dec("20"), Amount: dec("20")})
		},
		func() { c.LineItems[1].Cancelled = true },
		func() {
			c.OrderDiscounts = append(c.OrderDiscounts, Discount{Type: DiscountTypeAmount, Value: dec("5"), Amount: dec("5")})
		},
		func() { c.Payments = append(c.Payments, Payment{PaymentCode: "CASH", Amount: dec("100")}) },
	}

	for i, step := range steps {
		step()
		if err := c.recalculate(taxes); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		want := c.LineTotal.Add(c.TaxAmount).Sub(c.OrderDiscountTotal)
		if !c.Total.Equal(want) {
			t.Fatalf("step %d: identity broken: total %s, expected %s", i, c.Total, want)
		}
		if !c.Balance.Equal(c.Total.Sub(c.DepositTotal)) {
			t.Fatalf("step %d: balance identity broken", i)
		}
	}
}

func TestResolveDiscountPercent(t *testing.T) {
	d, err := resolveDiscount(Discount{Type: DiscountTypePercent, Value: dec("10")}, dec("250.00"))
	if err != nil {
		t.Fatalf("resolve discount: %v", err)
	}
	if !d.Amount.Equal(dec("25.00")) {
		t.Fatalf("expected 25.00, got %s", d.Amount)
	}

	if _, err := resolveDiscount(Discount{Type: DiscountTypePercent, Value: dec("120")}, dec("100")); err == nil {
		t.Fatal("expected error for >100 percent")
	}
	if _, err := resolveDiscount(Discount{Type: "bogus", Value: dec("1")}, dec("100")); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
