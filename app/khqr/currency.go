package khqr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

type Currency struct {
	Code           string
	NumericCode    string
	FractionDigits int32
}

var currencies = map[string]Currency{
	"USD": {Code: "USD", NumericCode: "840", FractionDigits: 2},
	"KHR": {Code: "KHR", NumericCode: "116", FractionDigits: 0},
}

func LookupCurrency(code string) (Currency, error) {
	c, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

func (c Currency) FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(c.FractionDigits)
}
