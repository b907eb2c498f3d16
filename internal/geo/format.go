package geo

import (
	"fmt"
	"math"
	"time"
)

var timeUnits = []struct {
	name    string
	seconds int64
}{
	{"year", 31536000},
	{"month", 2592000},
	{"week", 604800},
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
}

// FormatRelativeTime renders the time elapsed since instant in the largest
// whole unit, e.g. "1 hour ago" or "3 days ago". Anything under a minute,
// including instants in the future, is "just now".
func FormatRelativeTime(instant, now time.Time) string {
	seconds := int64(math.Floor(now.Sub(instant).Seconds()))
	for _, u := range timeUnits {
		n := seconds / u.seconds
		if n >= 1 {
			if n == 1 {
				return "1 " + u.name + " ago"
			}
			return fmt.Sprintf("%d %ss ago", n, u.name)
		}
	}
	return "just now"
}

// FormatDistanceBand phrases a distance for a notification sentence.
func FormatDistanceBand(meters float64) string {
	switch {
	case meters < 50:
		return "very close to"
	case meters < 100:
		return "near"
	default:
		return fmt.Sprintf("%dm from", int(math.Round(meters)))
	}
}
