package core

import "time"

// TimeFormat is the wire format for timestamps: UTC with millisecond
// precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders a timestamp in the wire format, converting to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time in the wire format.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime accepts a wire-format or RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
