package calendar

import (
	"testing"
	"time"
)

func TestParseInstant(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	tests := []struct {
		name string
		raw  string
		loc  *time.Location
		want time.Time
		ok   bool
	}{
		{name: "utc z", raw: "2024-05-01T09:00:00Z", want: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), ok: true},
		{name: "offset", raw: "2024-05-01T09:00:00+02:00", want: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), ok: true},
		{name: "fraction", raw: "2024-05-01T09:00:00.250Z", want: time.Date(2024, 5, 1, 9, 0, 0, 250e6, time.UTC), ok: true},
		{name: "naive uses loc", raw: "2024-05-01T09:00:00", loc: berlin, want: time.Date(2024, 5, 1, 9, 0, 0, 0, berlin), ok: true},
		{name: "date only midnight", raw: "2024-05-01", loc: berlin, want: time.Date(2024, 5, 1, 0, 0, 0, 0, berlin), ok: true},
		{name: "date only default utc", raw: " 2024-05-01 ", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "garbage", raw: "tomorrow-ish", ok: false},
		{name: "empty", raw: "", ok: false},
		{name: "bad date", raw: "2024-13-01", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseInstant(tt.raw, tt.loc)
			if ok != tt.ok {
				t.Fatalf("ParseInstant(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("ParseInstant(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsDateOnly(t *testing.T) {
	t.Parallel()
	if !IsDateOnly("2024-05-01") {
		t.Fatal("expected date-only")
	}
	if IsDateOnly("2024-05-01T00:00:00Z") {
		t.Fatal("date-time reported as date-only")
	}
}
