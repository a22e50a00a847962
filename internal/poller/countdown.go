package poller

import (
	"fmt"
	"time"
)

// ZeroTimeLeft is what [FormatTimeLeft] returns once the deadline passed.
const ZeroTimeLeft = "0m 00s"

// FormatTimeLeft renders the time between now and expires as "1h 2m 03s",
// or "2m 03s" under an hour. Partial seconds are dropped.
func FormatTimeLeft(expires, now time.Time) string {
	diff := expires.Sub(now)
	if diff <= 0 {
		return ZeroTimeLeft
	}

	total := int(diff / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %02ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %02ds", minutes, seconds)
}
