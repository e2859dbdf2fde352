package db

import (
	"testing"
	"time"
)

func TestDayBounds(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}

	// 23:30 UTC is already the next school day in Tokyo
	now := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	start, end := dayBounds(tokyo, now)
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, tokyo); !start.Equal(want) {
		t.Fatalf("start: want %v, got %v", want, start)
	}
	if !end.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("end must be start plus one day, got %v", end)
	}
	if !start.Before(now) || !end.After(now) {
		t.Fatalf("window [%v, %v) must contain %v", start, end, now)
	}

	// nil location falls back to process-local time
	s, e := dayBounds(nil, now)
	if !s.Before(now.Add(time.Nanosecond)) || !e.After(now) {
		t.Fatalf("local window [%v, %v) must contain %v", s, e, now)
	}
}
