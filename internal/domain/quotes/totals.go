package quotes

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultTaxRatePercent = 10

var hundred = decimal.NewFromInt(100)

// LineInput is a line as a quote supplies it to the calculator.
type LineInput struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Qty      float64 `json:"qty"`
	Unit     string  `json:"unit"`
	UnitRate float64 `json:"unitRate"`
}

// UnmarshalJSON defaults an omitted qty to 1.
func (in *LineInput) UnmarshalJSON(b []byte) error {
	type plain LineInput
	p := plain{Qty: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*in = LineInput(p)
	return nil
}

type TotalsLine struct {
	LineInput
	LineTotal float64 `json:"lineTotal"`
}

// UnmarshalJSON keeps LineTotal; the embedded decoder would shadow it.
func (l *TotalsLine) UnmarshalJSON(b []byte) error {
	if err := l.LineInput.UnmarshalJSON(b); err != nil {
		return err
	}
	var t struct {
		LineTotal float64 `json:"lineTotal"`
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	l.LineTotal = t.LineTotal
	return nil
}

type Totals struct {
	Lines     []TotalsLine `json:"normalizedLines"`
	SubTotal  float64      `json:"subTotal"`
	TaxAmount float64      `json:"taxAmount"`
	Total     float64      `json:"total"`
}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func lineTotal(qty, rate float64) decimal.Decimal {
	return round2(decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(rate)))
}

// CalculateLineTotal is qty × rate rounded to cents.
func CalculateLineTotal(qty, unitRate float64) float64 {
	return lineTotal(qty, unitRate).InexactFloat64()
}

// ComputeTotals rounds at every stage (line, subtotal, tax, total), so the
// total always equals the sum of the displayed parts. Inputs must be finite
// and non-negative; see CoerceLine.
func ComputeTotals(lines []LineInput, includeTax bool, taxRatePercent float64) Totals {
	out := Totals{Lines: make([]TotalsLine, 0, len(lines))}

	sub := decimal.Zero
	for _, l := range lines {
		lt := lineTotal(l.Qty, l.UnitRate)
		sub = sub.Add(lt)
		out.Lines = append(out.Lines, TotalsLine{LineInput: l, LineTotal: lt.InexactFloat64()})
	}
	sub = round2(sub)

	total := sub
	tax := decimal.Zero
	if includeTax {
		tax = round2(sub.Mul(decimal.NewFromFloat(taxRatePercent)).Div(hundred))
		total = round2(sub.Add(tax))
	}

	out.SubTotal = sub.InexactFloat64()
	out.TaxAmount = tax.InexactFloat64()
	out.Total = total.InexactFloat64()
	return out
}

// Inputs projects persisted lines onto calculator input.
func Inputs(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{Name: l.Name, Category: l.Category, Qty: l.Qty, Unit: l.Unit, UnitRate: l.UnitRate})
	}
	return out
}

// CoerceLine sanitizes caller input before it reaches the calculator:
// name is required, blank category/unit get defaults, non-finite numbers
// fall back to defaults and negatives clamp to zero.
func CoerceLine(in LineInput) (LineInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return LineInput{}, ErrInvalidLine
	}
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = "General"
	}
	in.Unit = strings.TrimSpace(in.Unit)
	if in.Unit == "" {
		in.Unit = "unit"
	}
	in.Qty = clampNumber(in.Qty, 1)
	in.UnitRate = clampNumber(in.UnitRate, 0)
	return in, nil
}

func clampNumber(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Max(0, v)
}
