// Package core provides the domain model of the budget tracker.
//
// This file contains the parsing of user-entered amounts.
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts a decimal string into a positive amount rounded to
// two decimal places.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the third
// decimal is rounded half-up. Signs, zero and malformed input are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,345") -> 12.35, nil
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	cents, err := parseCents(s)
	if err != nil {
		return 0, err
	}
	return float64(cents) / 100, nil
}

func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafe = (1<<53 - 1) / 100
	if iv > maxSafe {
		return 0, ErrInvalidAmount
	}
	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}
	cents := iv*100 + frac
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// Round2 rounds to two decimal places for display and reporting.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatMoney formats an amount with the currency symbol from DefaultRates
// and thousands separators (e.g., "₦12,345.60"). Unknown codes are used as
// the prefix.
func FormatMoney(amount float64, code string) string {
	symbol := code
	if c, ok := DefaultRates[code]; ok && c.Symbol != "" {
		symbol = c.Symbol
	}

	cents := int64(math.Round(math.Abs(amount) * 100))
	whole := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	s := symbol + b.String() + fmt.Sprintf(".%02d", cents%100)
	if amount < 0 {
		return "-" + s
	}
	return s
}
