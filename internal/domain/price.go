package domain

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a monetary amount in cents.
type Price int64

// PriceFromDecimal rounds d to two places, half away from zero.
func PriceFromDecimal(d decimal.Decimal) Price {
	return Price(d.Round(2).Shift(2).IntPart())
}

// ParsePrice parses a decimal string and rounds it to cents.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return PriceFromDecimal(d), nil
}

func (p Price) Cents() int64 {
	return int64(p)
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// String renders the price with exactly two fractional digits.
func (p Price) String() string {
	return p.Decimal().StringFixed(2)
}

// MarshalJSON writes the price as a JSON number such as 49.90.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	parsed, err := ParsePrice(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
