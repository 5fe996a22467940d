package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseISO8601Duration parses the time-only subset of ISO 8601
// durations used by the API (PT1H30M, PT5S, PT0.5S). Date components
// (days, months) are rejected, as are zero durations, which would mean
// retrying in a hot loop.
func ParseISO8601Duration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "PT") {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q: must start with PT", s)
	}

	rest := s[2:]
	var total time.Duration
	num := ""

	for _, r := range rest {
		switch {
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		case r == 'H' || r == 'M' || r == 'S':
			if num == "" {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: unit %c without value", s, r)
			}
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
			}
			switch r {
			case 'H':
				total += time.Duration(val * float64(time.Hour))
			case 'M':
				total += time.Duration(val * float64(time.Minute))
			case 'S':
				total += time.Duration(val * float64(time.Second))
			}
			num = ""
		default:
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: unexpected %q", s, r)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q: trailing value without unit", s)
	}
	if total <= 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q: must be positive", s)
	}
	return total, nil
}

// FormatISO8601Duration renders a duration as PT[nH][nM][nS], dropping
// zero components. Sub-second precision is truncated.
func FormatISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteString("PT")

	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int64(d / time.Second)

	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		fmt.Fprintf(&b, "%dS", seconds)
	}
	return b.String()
}
