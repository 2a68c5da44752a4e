package routing

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 0, 0, 0, time.UTC)
}

func TestQuietHoursWrappingWindow(t *testing.T) {
	t.Parallel()
	q := QuietHours{Enabled: true, StartHour: 20, EndHour: 8}

	tests := []struct {
		hour int
		in   bool
	}{
		{hour: 23, in: true},
		{hour: 3, in: true},
		{hour: 12, in: false},
		{hour: 20, in: true}, // start inclusive
		{hour: 8, in: false}, // end exclusive
		{hour: 19, in: false},
	}
	for _, tt := range tests {
		if got := q.Contains(at(tt.hour)); got != tt.in {
			t.Fatalf("Contains(%02d:00) = %v, want %v", tt.hour, got, tt.in)
		}
	}
}

func TestQuietHoursPlainWindow(t *testing.T) {
	t.Parallel()
	q := QuietHours{Enabled: true, StartHour: 9, EndHour: 17}
	if !q.Contains(at(12)) {
		t.Fatal("12:00 should be inside 9-17")
	}
	if q.Contains(at(3)) {
		t.Fatal("03:00 should be outside 9-17")
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	t.Parallel()
	q := QuietHours{Enabled: false, StartHour: 0, EndHour: 24}
	for h := 0; h < 24; h++ {
		if q.Contains(at(h)) {
			t.Fatalf("disabled window suppressed at %02d:00", h)
		}
	}
}

func TestQuietHoursZeroWidth(t *testing.T) {
	t.Parallel()
	q := QuietHours{Enabled: true, StartHour: 7, EndHour: 7}
	if q.Contains(at(7)) {
		t.Fatal("zero-width window should never contain anything")
	}
}
