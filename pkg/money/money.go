// Package money holds the fixed-point values used by every payroll and
// contribution record: amounts carry 2 decimals, rates carry 3.
package money

import (
	"bytes"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AmountScale = 2
	RateScale   = 3
)

type Amount struct {
	d decimal.Decimal
}

type Rate struct {
	d decimal.Decimal
}

func ParseAmount(raw string) (Amount, error) {
	d, err := parseDecimal(raw)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d: d.Round(AmountScale)}, nil
}

func MustAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func AmountFromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -AmountScale)}
}

func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(AmountScale)}
}

func (a Amount) Decimal() decimal.Decimal { return a.d }
func (a Amount) String() string           { return a.d.StringFixed(AmountScale) }
func (a Amount) IsNegative() bool         { return a.d.IsNegative() }
func (a Amount) IsPositive() bool         { return a.d.IsPositive() }
func (a Amount) IsZero() bool             { return a.d.IsZero() }
func (a Amount) Cmp(b Amount) int         { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool      { return a.d.Equal(b.d) }

func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d).Round(AmountScale)}
}

// Mul multiplies by an arbitrary factor and rounds half-up to cents.
func (a Amount) Mul(factor decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(factor).Round(AmountScale)}
}

func (a Amount) MulRate(r Rate) Amount {
	return a.Mul(r.d)
}

func (a Amount) Cents() int64 {
	return a.d.Shift(AmountScale).Round(0).IntPart()
}

func (a Amount) Clamp(lo Amount, hi Amount) Amount {
	if a.Cmp(lo) < 0 {
		return lo
	}
	if a.Cmp(hi) > 0 {
		return hi
	}
	return a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	d, err := decodeJSONDecimal(b)
	if err != nil {
		return err
	}
	a.d = d.Round(AmountScale)
	return nil
}

func ParseRate(raw string) (Rate, error) {
	d, err := parseDecimal(raw)
	if err != nil {
		return Rate{}, err
	}
	return Rate{d: d.Round(RateScale)}, nil
}

func MustRate(raw string) Rate {
	r, err := ParseRate(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func RateFromDecimal(d decimal.Decimal) Rate {
	return Rate{d: d.Round(RateScale)}
}

func (r Rate) Decimal() decimal.Decimal { return r.d }
func (r Rate) String() string           { return r.d.StringFixed(RateScale) }
func (r Rate) Equal(o Rate) bool        { return r.d.Equal(o.d) }

// InUnitInterval reports whether 0 <= r <= 1.
func (r Rate) InUnitInterval() bool {
	return !r.d.IsNegative() && r.d.Cmp(decimal.NewFromInt(1)) <= 0
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	d, err := decodeJSONDecimal(b)
	if err != nil {
		return err
	}
	r.d = d.Round(RateScale)
	return nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, errors.New("money: empty value")
	}
	return decimal.NewFromString(raw)
}

// decodeJSONDecimal accepts both quoted strings and bare JSON numbers; bare
// numbers are parsed from their literal text so no float conversion happens.
func decodeJSONDecimal(b []byte) (decimal.Decimal, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return decimal.Decimal{}, errors.New("money: null value")
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	return parseDecimal(string(b))
}
