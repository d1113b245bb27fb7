package regimen

import (
	"errors"
	"testing"
	"time"
)

var testDay = time.Date(2025, 6, 10, 15, 42, 7, 0, time.UTC)

func TestResolveSlot_ClockTime(t *testing.T) {
	got, err := ResolveSlot("14:30", testDay)
	if err != nil {
		t.Fatalf("ResolveSlot returned error: %v", err)
	}

	want := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestResolveSlot_ClockTime_Deterministic(t *testing.T) {
	first, _ := ResolveSlot("06:05", testDay)
	second, _ := ResolveSlot("06:05", testDay)
	if !first.Equal(second) {
		t.Fatalf("resolution is not deterministic: %s vs %s", first, second)
	}
}

func TestResolveSlot_NamedPeriods(t *testing.T) {
	cases := []struct {
		token string
		hour  int
	}{
		{"morning", 8},
		{"Morning", 8},
		{"afternoon", 14},
		{"evening", 18},
		{"night", 21},
	}

	for _, tc := range cases {
		got, err := ResolveSlot(tc.token, testDay)
		if err != nil {
			t.Fatalf("ResolveSlot(%q) returned error: %v", tc.token, err)
		}
		if got.Hour() != tc.hour || got.Minute() != 0 {
			t.Fatalf("ResolveSlot(%q) = %s, expected %02d:00", tc.token, got, tc.hour)
		}
	}
}

func TestResolveSlot_MalformedClock_FallsBack(t *testing.T) {
	cases := []string{"25:00", "12:60", "-1:30", "ab:cd", "12:34:56"}

	for _, token := range cases {
		got, err := ResolveSlot(token, testDay)
		if !errors.Is(err, ErrInvalidSlotFormat) {
			t.Fatalf("ResolveSlot(%q): expected ErrInvalidSlotFormat, got %v", token, err)
		}
		// The fallback time is still usable so one bad slot never
		// blocks schedule creation.
		if got.Hour() != 9 || got.Minute() != 0 {
			t.Fatalf("ResolveSlot(%q) fallback = %s, expected 09:00", token, got)
		}
	}
}

func TestResolveSlot_UnknownToken_FallsBack(t *testing.T) {
	got, err := ResolveSlot("brunch", testDay)
	if !errors.Is(err, ErrUnknownSlotToken) {
		t.Fatalf("expected ErrUnknownSlotToken, got %v", err)
	}
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("fallback = %s, expected 09:00", got)
	}
}

func TestResolveSlot_BoundaryHours(t *testing.T) {
	got, err := ResolveSlot("00:00", testDay)
	if err != nil {
		t.Fatalf("ResolveSlot(00:00) returned error: %v", err)
	}
	if got.Hour() != 0 || got.Minute() != 0 {
		t.Fatalf("expected midnight, got %s", got)
	}

	got, err = ResolveSlot("23:59", testDay)
	if err != nil {
		t.Fatalf("ResolveSlot(23:59) returned error: %v", err)
	}
	if got.Hour() != 23 || got.Minute() != 59 {
		t.Fatalf("expected 23:59, got %s", got)
	}
}

func TestResolveSlot_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, loc)

	got, err := ResolveSlot("08:00", day)
	if err != nil {
		t.Fatalf("ResolveSlot returned error: %v", err)
	}
	if got.Location() != loc {
		t.Fatalf("expected location %v, got %v", loc, got.Location())
	}
}
