package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	valid := map[string]TimeOfDay{
		"10:00:05": {10, 0, 5},
		"9:5:7":    {9, 5, 7},
		"00:00:00": {0, 0, 0},
		"23:59:59": {23, 59, 59},
		" 7:30:00": {7, 30, 0},
	}
	for raw, want := range valid {
		got, err := ParseTimeOfDay(raw)
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseTimeOfDay(%q) = %+v, want %+v", raw, got, want)
		}
	}

	for _, raw := range []string{"24:00:00", "12:60:00", "12:00:60", "12:00", "noon", "", "1:2:3:4", "-1:00:00"} {
		if _, err := ParseTimeOfDay(raw); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("ParseTimeOfDay(%q) = %v, want ErrInvalidFormat", raw, err)
		}
	}
}

func TestTimeOfDay_NextSameDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 23, 59, 58, 0, time.UTC)
	got := TimeOfDay{23, 59, 59}.Next(now)
	want := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestTimeOfDay_NextRollsToTomorrow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	got := TimeOfDay{0, 0, 1}.Next(now)
	want := time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestTimeOfDay_NextExactlyNowIsTomorrow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	got := TimeOfDay{12, 0, 0}.Next(now)
	want := time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestTimeOfDay_String(t *testing.T) {
	t.Parallel()

	if got := (TimeOfDay{9, 5, 7}).String(); got != "09:05:07" {
		t.Fatalf("String() = %q", got)
	}
}
