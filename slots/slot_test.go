package slots

import (
	"testing"
	"time"
)

func TestStart(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{
			name:     "first half of the hour",
			input:    time.Date(2023, time.June, 1, 12, 17, 42, 123, time.UTC),
			expected: time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "second half of the hour",
			input:    time.Date(2023, time.June, 1, 12, 31, 0, 0, time.UTC),
			expected: time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "exactly on the half hour",
			input:    time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC),
			expected: time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "last nanosecond before the hour",
			input:    time.Date(2023, time.June, 1, 12, 59, 59, 999999999, time.UTC),
			expected: time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "non UTC input is converted",
			input:    time.Date(2023, time.June, 1, 14, 10, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			expected: time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Start(tt.input)
			if !result.Equal(tt.expected) || result.Location() != time.UTC {
				t.Errorf("Start(%v) expected %v, got %v", tt.input, tt.expected, result)
			}
		})
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		input    time.Time
		expected time.Time
	}{
		{time.Date(2023, time.June, 1, 12, 5, 0, 0, time.UTC), time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC)},
		{time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC), time.Date(2023, time.June, 1, 13, 0, 0, 0, time.UTC)},
		{time.Date(2023, time.June, 1, 23, 45, 0, 0, time.UTC), time.Date(2023, time.June, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		if result := Next(tt.input); !result.Equal(tt.expected) {
			t.Errorf("Next(%v) expected %v, got %v", tt.input, tt.expected, result)
		}
	}
}

func TestIsAligned(t *testing.T) {
	if !IsAligned(time.Date(2023, time.June, 1, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("expected 12:30 to be aligned")
	}
	if IsAligned(time.Date(2023, time.June, 1, 12, 30, 1, 0, time.UTC)) {
		t.Errorf("expected 12:30:01 not to be aligned")
	}
}

func TestParseIso(t *testing.T) {
	parsed, err := ParseIso("2023-06-01T12:00:00Z")
	if err != nil {
		t.Fatalf("ParseIso() unexpected error: %v", err)
	}
	expected := time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC)
	if !parsed.Equal(expected) {
		t.Errorf("ParseIso() expected %v, got %v", expected, parsed)
	}

	invalid := []string{
		"",
		"not a valid iso date",
		"2023-06-01T12:00:00+01:00",
		"2023-06-01T12:00:00.000Z",
		"2023-06-01 12:00:00",
		"2023-06-01T12:00Z",
	}
	for _, str := range invalid {
		if _, err := ParseIso(str); err == nil {
			t.Errorf("ParseIso(%q) expected an error", str)
		}
	}
}

func TestIsoString(t *testing.T) {
	tm := time.Date(2023, time.June, 1, 13, 30, 0, 0, time.FixedZone("BST", 3600))
	expected := "2023-06-01T12:30:00Z"
	if s := IsoString(tm); s != expected {
		t.Errorf("IsoString() expected %q, got %q", expected, s)
	}
}

func TestLocalClockFromIso(t *testing.T) {
	s, err := LocalClockFromIso("2023-06-01T12:00:00Z", time.UTC)
	if err != nil {
		t.Fatalf("LocalClockFromIso() unexpected error: %v", err)
	}
	if s != "12:00" {
		t.Errorf("LocalClockFromIso() expected %q, got %q", "12:00", s)
	}

	london, err := LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("LoadLocation() unexpected error: %v", err)
	}
	s, err = LocalClockFromIso("2023-06-01T12:00:00Z", london)
	if err != nil {
		t.Fatalf("LocalClockFromIso() unexpected error: %v", err)
	}
	if s != "13:00" {
		t.Errorf("LocalClockFromIso() in summer time expected %q, got %q", "13:00", s)
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil || loc != time.Local {
		t.Errorf("LoadLocation(\"\") expected time.Local, got %v (%v)", loc, err)
	}
	if _, err := LoadLocation("Not/AZone"); err == nil {
		t.Errorf("LoadLocation() expected an error for an unknown zone")
	}
}
