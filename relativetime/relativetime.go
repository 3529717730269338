// Package relativetime renders the difference between two times as a
// short human readable phrase.
package relativetime

import (
	"fmt"
	"time"
)

// thresholds in milliseconds
const (
	minuteMs = int64(time.Minute / time.Millisecond)
	hourMs   = int64(time.Hour / time.Millisecond)
	dayMs    = 24 * hourMs
	monthMs  = 30 * dayMs
	yearMs   = 365 * dayMs
)

// Diff renders the time between nowMs and thenMs, e.g. "2 hours
// ago" or "in 3 days".
func Diff(nowMs, thenMs int64) string {
	delta := nowMs - thenMs
	future := delta < 0
	if future {
		delta = -delta
	}

	var phrase string
	switch {
	case delta < 45*1000:
		phrase = "a few seconds"
	case delta < 90*1000:
		phrase = "a minute"
	case delta < 45*minuteMs:
		phrase = plural((delta+minuteMs/2)/minuteMs, "minute")
	case delta < 90*minuteMs:
		phrase = "an hour"
	case delta < 22*hourMs:
		phrase = plural((delta+hourMs/2)/hourMs, "hour")
	case delta < 36*hourMs:
		phrase = "a day"
	case delta < 26*dayMs:
		phrase = plural((delta+dayMs/2)/dayMs, "day")
	case delta < 46*dayMs:
		phrase = "a month"
	case delta < 320*dayMs:
		phrase = plural((delta+monthMs/2)/monthMs, "month")
	case delta < 548*dayMs:
		phrase = "a year"
	default:
		phrase = plural((delta+yearMs/2)/yearMs, "year")
	}

	if future {
		return "in " + phrase
	}
	return phrase + " ago"
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
