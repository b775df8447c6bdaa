package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount indicates that a textual amount could not be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Amount is a monetary value stored as integer cents.
type Amount int64

// FromUnits converts a whole-unit price (for example 500) into an Amount.
func FromUnits(units int64) Amount {
	return Amount(units * 100)
}

// Parse reads a decimal string with at most two fraction digits ("499.99", "500", "0.5").
func Parse(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	negative := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimPrefix(trimmed, "-")

	whole, fraction, hasFraction := strings.Cut(trimmed, ".")
	if whole == "" && !hasFraction {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if hasFraction && (len(fraction) == 0 || len(fraction) > 2) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !digitsOnly(whole) || !digitsOnly(fraction) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if whole == "" {
		whole = "0"
	}
	for len(fraction) < 2 {
		fraction += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	cents, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil || units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	value := units*100 + cents
	if negative {
		value = -value
	}
	return Amount(value), nil
}

func digitsOnly(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Cents exposes the raw integer cents.
func (a Amount) Cents() int64 {
	return int64(a)
}

// Float returns the amount in units, for JSON payloads that expect a number.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// SubtractClamped returns a-b, never going below zero.
func (a Amount) SubtractClamped(b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// String renders the amount with exactly two fraction digits.
func (a Amount) String() string {
	value := int64(a)
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/100, value%100)
}
