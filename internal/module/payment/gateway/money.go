package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PaiseToRupees formats an amount in paise as a rupee string with two
// decimal places, the shape decimal-amount providers expect on the wire.
func PaiseToRupees(paise int64) string {
	return decimal.NewFromInt(paise).Div(hundred).StringFixed(2)
}

// RupeesToPaise parses a decimal rupee string into paise. Amounts with
// sub-paise precision are rejected rather than rounded.
func RupeesToPaise(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	p := d.Mul(hundred)
	if !p.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-paise precision", s)
	}
	return p.IntPart(), nil
}
