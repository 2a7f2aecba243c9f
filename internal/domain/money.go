package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a monetary string cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// IntCents coerces an arbitrary value from the loosely typed data layer into
// integer cents. Invalid or absent input yields 0; this never panics and
// never returns a fractional value. Callers who need to distinguish "absent"
// from "explicitly zero" use IntCentsOK instead.
func IntCents(v any) int64 {
	cents, _ := IntCentsOK(v)
	return cents
}

// IntCentsOK coerces v into integer cents and reports whether the input was
// actually a usable numeric value. The ok result is the load-bearing
// distinction between "trust the caller's zero" and "fall back to a computed
// default": stored documents routinely omit fields or hold them in the wrong
// type, and only the caller knows which defaulting rule applies.
func IntCentsOK(v any) (int64, bool) {
	switch value := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(value), true
	case int32:
		return int64(value), true
	case int64:
		return value, true
	case float32:
		return truncFloatCents(float64(value))
	case float64:
		return truncFloatCents(value)
	case json.Number:
		return parseNumericString(value.String())
	case string:
		return parseNumericString(value)
	case *int64:
		if value == nil {
			return 0, false
		}
		return *value, true
	default:
		return 0, false
	}
}

func truncFloatCents(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

func parseNumericString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return truncFloatCents(f)
}

// USDToCents parses a decimal USD amount into integer cents using string
// arithmetic, so two-decimal inputs are always exact ("19.99" is 1999, never
// 1998). A leading '$', commas, and surrounding whitespace are tolerated.
// Rounding is half-up on the third decimal digit. Malformed input (no digits,
// multiple decimal points, stray characters) fails with ErrInvalidAmount.
func USDToCents(input string) (int64, error) {
	cleaned := strings.TrimSpace(input)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}

	negative := false
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = cleaned[1:]
	}

	parts := strings.Split(cleaned, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("%w: %q has multiple decimal points", ErrInvalidAmount, input)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}

	dollars := int64(0)
	if whole != "" {
		parsed, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
		}
		dollars = parsed
	}

	// Normalise the fraction to three digits: two for cents, one to decide
	// the half-up rounding.
	for len(frac) < 3 {
		frac += "0"
	}
	centsPart, err := strconv.ParseInt(frac[:2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	if frac[2] >= '5' {
		centsPart++
	}

	cents := dollars*100 + centsPart
	if negative {
		cents = -cents
	}
	return cents, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
