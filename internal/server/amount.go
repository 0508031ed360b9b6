package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errInvalidAmount = errors.New("invalid amount")

// parseDecimalAmount converts a decimal string like "19.99" into minor
// units without going through floating point. At most two fractional
// digits are accepted and the amount must be positive.
func parseDecimalAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "+") {
		return 0, errInvalidAmount
	}

	whole := raw
	frac := ""
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		whole = raw[:idx]
		frac = raw[idx+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, errInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errInvalidAmount
	}
	var cents int64
	if frac != "" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errInvalidAmount
		}
	}

	amount := units*100 + cents
	if amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

// formatMinorUnits renders minor units back to a two-decimal string, so
// 1999 becomes "19.99".
func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
