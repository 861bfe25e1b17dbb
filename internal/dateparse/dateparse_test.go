package dateparse

import (
	"testing"
	"time"
)

// Fixed reference time: Wednesday, 2026-02-18 12:00:00 UTC
var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

func TestParseSince(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"24h", testNow.Add(-24 * time.Hour)},
		{"1h30m", testNow.Add(-90 * time.Minute)},
		{"90s", testNow.Add(-90 * time.Second)},
		{"0d", testNow},
		{"7d", time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)},
		{"-7d", time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)},
		{"2w", time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)},
		{"1m", time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)},
		{"2026-01-01", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-02-17T08:30:00Z", time.Date(2026, 2, 17, 8, 30, 0, 0, time.UTC)},
		{"today", time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)},
		{"Yesterday", time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)},
		{"  24H  ", testNow.Add(-24 * time.Hour)},
	}
	for _, tt := range tests {
		got, err := ParseSinceFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseSinceFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSinceFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseSince_Invalid(t *testing.T) {
	inputs := []string{"", "   ", "soon", "7x", "d", "-", "2026-13-01"}
	for _, input := range inputs {
		if got, err := ParseSinceFrom(input, testNow); err == nil {
			t.Errorf("ParseSinceFrom(%q) = %v, want error", input, got)
		}
	}
}

func TestParseSince_UsesNow(t *testing.T) {
	before := time.Now()
	got, err := ParseSince("1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.After(before) || before.Sub(got) > time.Hour+time.Minute {
		t.Errorf("ParseSince(1h) = %v, not about an hour before %v", got, before)
	}
}
