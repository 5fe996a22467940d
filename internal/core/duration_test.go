package core

import (
	"testing"
	"time"
)

func TestParseISO8601Duration_RetryDelays(t *testing.T) {
	// The durations the submission API accepts for retry_delay and
	// delay triggers.
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT1S", DefaultRetryDelay},
		{"PT2S", 2 * time.Second},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT30S", 30 * time.Second},
		{"PT1M30S", 90 * time.Second},
		{"PT1H", time.Hour},
		{"PT1H15M10S", time.Hour + 15*time.Minute + 10*time.Second},
	}

	for _, tt := range tests {
		got, err := ParseISO8601Duration(tt.in)
		if err != nil {
			t.Errorf("ParseISO8601Duration(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseISO8601Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseISO8601Duration_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"date component", "P1D"},
		{"missing prefix", "90S"},
		{"go syntax", "1m30s"},
		{"zero would retry in a hot loop", "PT0S"},
		{"bare prefix", "PT"},
		{"unit without value", "PTS"},
		{"value without unit", "PT90"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseISO8601Duration(tt.in); err == nil {
				t.Errorf("ParseISO8601Duration(%q) accepted, want error", tt.in)
			}
		})
	}
}

func TestFormatISO8601Duration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{DefaultRetryDelay, "PT1S"},
		{90 * time.Second, "PT1M30S"},
		{time.Hour + 15*time.Minute, "PT1H15M"},
		{1500 * time.Millisecond, "PT1S"}, // sub-second truncated
		{0, "PT0S"},
		{-time.Second, "PT0S"},
	}

	for _, tt := range tests {
		if got := FormatISO8601Duration(tt.input); got != tt.want {
			t.Errorf("FormatISO8601Duration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	// Delays the engine itself produces: the default retry delay and
	// the doubled backoff steps derived from it.
	durations := []time.Duration{
		DefaultRetryDelay,
		2 * DefaultRetryDelay,
		4 * DefaultRetryDelay,
		2*time.Hour + 30*time.Minute + 45*time.Second,
	}

	for _, d := range durations {
		formatted := FormatISO8601Duration(d)
		parsed, err := ParseISO8601Duration(formatted)
		if err != nil {
			t.Errorf("round trip failed for %v: format=%q, parse error=%v", d, formatted, err)
			continue
		}
		if parsed != d {
			t.Errorf("round trip mismatch for %v: format=%q, parsed=%v", d, formatted, parsed)
		}
	}
}
