package analytics

import (
	"fmt"
	"math"
)

// FormatDuration renders seconds as "1h 2m 5s", "2m 5s" or "45s". Zero is
// "0m 0s".
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0m 0s"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatAverage rounds a mean duration to whole seconds before formatting.
func FormatAverage(avg float64) string {
	return FormatDuration(int64(math.Round(avg)))
}
