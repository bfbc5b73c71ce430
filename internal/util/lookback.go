package util

import (
	"fmt"
	"strings"
)

// ParseLookback converts a lookback window string (e.g., "3M", "1Y", "18")
// to months. A bare number is taken as months. If the string is empty, it
// returns 0.
func ParseLookback(lookback string) (int, error) {
	lookback = strings.TrimSpace(lookback)
	if lookback == "" {
		return 0, nil
	}

	var value int
	var unit string

	n, err := fmt.Sscanf(lookback, "%d%s", &value, &unit)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("invalid lookback value: %s", lookback)
	}
	if value <= 0 {
		return 0, fmt.Errorf("lookback must be positive: %s", lookback)
	}

	if n == 1 {
		return value, nil
	}

	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "M", "MO", "MONTH", "MONTHS":
		return value, nil
	case "Y", "YR", "YEAR", "YEARS":
		return value * 12, nil
	default:
		return 0, fmt.Errorf("unknown lookback unit: %s", unit)
	}
}

// FormatLookback renders months the way the engine labels lookback windows.
func FormatLookback(months int) string {
	if months <= 0 {
		return "3M"
	}
	return fmt.Sprintf("%dM", months)
}
