package services

import (
	"fmt"
	"math"
)

// round2 rounds a monetary amount to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatSigned renders a feed amount as "+$X.XX" or "-$X.XX".
func formatSigned(amount float64) string {
	if amount < 0 {
		return fmt.Sprintf("-$%.2f", -amount)
	}
	return fmt.Sprintf("+$%.2f", amount)
}
