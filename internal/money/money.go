// Package money provides a fixed-point amount type for single-currency prices and totals.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the number of minor units (paisa, cents) in one major unit.
const MinorUnitsPerMajor = 100

const scale = 2

var (
	ErrNegative = errors.New("amount must not be negative")
	ErrInvalid  = errors.New("invalid amount")
)

// Amount is a non-negative monetary value with two fractional digits.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// New parses a decimal string such as "100" or "12.50".
func New(value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, value)
	}
	return fromDecimal(d)
}

// MustNew is New for constants and tests; it panics on malformed input.
func MustNew(value string) Amount {
	a, err := New(value)
	if err != nil {
		panic(err)
	}
	return a
}

// FromMinor builds an amount from an integer count of minor units.
func FromMinor(minor int64) (Amount, error) {
	return fromDecimal(decimal.New(minor, -scale))
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return Amount{}, ErrNegative
	}
	return Amount{d: d.Round(scale)}, nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// MulQty returns the amount multiplied by a non-negative quantity.
func (a Amount) MulQty(qty int) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(qty)))}
}

// Minor converts the amount to minor units, rounding half up on the smallest unit.
func (a Amount) Minor() int64 {
	return a.d.Shift(scale).Round(0).IntPart()
}

// Equal reports whether both amounts have the same value.
func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string {
	return a.d.StringFixed(scale)
}

// MarshalJSON encodes the amount as a JSON string to avoid float conversion by clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, data)
	}
	parsed, err := fromDecimal(d)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer so amounts can be written to NUMERIC columns.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (a *Amount) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	parsed, err := fromDecimal(d)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
