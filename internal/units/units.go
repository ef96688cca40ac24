// Package units converts between base-unit integers and human decimal
// amounts (ETH, whole tokens).
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals of ETH and of every launched token.
const Decimals = 18

var ErrInvalidAmount = errors.New("units: invalid amount")

// ParseWei parses a base-unit decimal integer string.
func ParseWei(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a base-unit integer", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseUnits parses a human amount such as "1.5" into base units. Fractions
// finer than one base unit are rejected rather than rounded.
func ParseUnits(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q overflows 256 bits", ErrInvalidAmount, s)
	}
	return v, nil
}

// Format renders base units as a human decimal string.
func Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return ToDecimal(v).String()
}

// ToDecimal converts base units to a decimal amount.
func ToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals)
}
