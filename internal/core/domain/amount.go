package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
	ErrDivisionByZero  = errors.New("division by zero")
)

// Amount is an unsigned 256-bit token quantity in atomic units.
// The zero value is 0. Arithmetic never wraps: every operation that would leave
// the [0, 2^256) range returns an error instead.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n atomic units.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 integer string of atomic units.
// Only canonical forms are accepted: digits only, no sign, no leading zeros, no
// whitespace, and the parsed value must print back to exactly the same string.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, s)
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return Amount{}, fmt.Errorf("%w: %q has leading zeros", ErrInvalidAmount, s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	a := Amount{v: *v}
	if a.String() != s {
		return Amount{}, fmt.Errorf("%w: %q does not round-trip", ErrInvalidAmount, s)
	}
	return a, nil
}

// MustParseAmount is ParseAmount for constants; it panics on bad input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b or ErrAmountOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// Sub returns a-b or ErrAmountUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, ErrAmountUnderflow
	}
	return out, nil
}

// MulDiv returns floor(a*num/den). The product is kept at 512 bits, so only a
// quotient that does not fit in 256 bits overflows.
func (a Amount) MulDiv(num, den Amount) (Amount, error) {
	if den.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	if a.IsZero() || num.IsZero() {
		return Amount{}, nil
	}
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &num.v, &den.v); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// Div returns floor(a/den).
func (a Amount) Div(den Amount) (Amount, error) {
	if den.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	var out Amount
	out.v.Div(&a.v, &den.v)
	return out, nil
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }
func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }
func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }
func (a Amount) IsZero() bool     { return a.v.IsZero() }

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if b.Lt(a) {
		return b
	}
	return a
}

func (a Amount) IsUint64() bool { return a.v.IsUint64() }
func (a Amount) Uint64() uint64 { return a.v.Uint64() }

// String returns the canonical base-10 representation.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a quoted base-10 string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts only a quoted canonical base-10 string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amounts must be JSON strings", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
