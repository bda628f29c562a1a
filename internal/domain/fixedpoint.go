package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// All money and numeric results are fixed-point int64 micro-units: six
// decimal places, truncating arithmetic. Rates are expressed in basis
// points over BpsDenominator.
const (
	AmountScale     int64 = 1_000_000
	BpsDenominator  int64 = 10_000
	maxFracDigits         = 6
	maxWholeUnits   int64 = 1_000_000_000_000 // |amount| <= 1e12 whole units
	MaxAmountMicros int64 = maxWholeUnits * AmountScale
)

// ParseAmount parses a decimal string ("42", "-3.5", "101.000001") into
// micro-units. At most six fractional digits; out-of-range magnitudes and
// malformed strings fail with a validation-class error.
func ParseAmount(s string) (int64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	neg := false
	switch raw[0] {
	case '-':
		neg = true
		raw = raw[1:]
	case '+':
		raw = raw[1:]
	}

	intPart := raw
	fracPart := ""
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		intPart, fracPart = raw[:i], raw[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(fracPart) > maxFracDigits {
		return 0, fmt.Errorf("%w: more than %d decimal places in %q", ErrInvalidAmount, maxFracDigits, s)
	}

	whole := int64(0)
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		whole = whole*10 + int64(c-'0')
		if whole > maxWholeUnits {
			return 0, fmt.Errorf("%w: magnitude of %q exceeds %d", ErrInvalidAmount, s, maxWholeUnits)
		}
	}

	frac := int64(0)
	for _, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		frac = frac*10 + int64(c-'0')
	}
	for i := len(fracPart); i < maxFracDigits; i++ {
		frac *= 10
	}

	v := whole*AmountScale + frac
	if neg {
		v = -v
	}
	return v, nil
}

// FormatAmount renders micro-units as a canonical decimal string with
// trailing zeros trimmed ("101", "95.95", "-0.000001").
func FormatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / AmountScale
	frac := v % AmountScale
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}

// MulBps computes v * bps / BpsDenominator exactly, truncating toward zero.
// Intermediate products can exceed int64 (band arithmetic on large medians),
// so the multiply runs over big.Int.
func MulBps(v, bps int64) int64 {
	r := new(big.Int).Mul(big.NewInt(v), big.NewInt(bps))
	r.Quo(r, big.NewInt(BpsDenominator))
	return r.Int64()
}

// SafeMul multiplies two non-negative int64 values, failing instead of
// wrapping on overflow.
func SafeMul(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand", ErrInvalidAmount)
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if r/a != b {
		return 0, fmt.Errorf("%w: %d * %d overflows", ErrInvalidAmount, a, b)
	}
	return r, nil
}
