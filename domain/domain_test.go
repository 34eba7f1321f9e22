package domain

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	ms := want.UnixMilli()
	cases := []any{
		"2024-03-01T10:30:00Z",
		"2024-03-01T10:30:00",
		"2024-03-01 10:30:00",
		float64(ms),
		ms,
		"1709289000000",
		want,
	}
	for _, in := range cases {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%v): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseDate(%v) = %v, want %v", in, got, want)
		}
	}

	day, err := ParseDate("2024-03-01")
	if err != nil || !day.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected plain date %v %v", day, err)
	}
	if _, err := ParseDate("next tuesday"); err == nil {
		t.Fatal("expected error for free text")
	}
	if _, err := ParseDate(true); err == nil {
		t.Fatal("expected error for bool")
	}
}

func TestTempIDs(t *testing.T) {
	var ids TempIDs
	a, b := ids.Next(), ids.Next()
	if a == b || !IsTempID(a) || !IsTempID(b) {
		t.Fatalf("unexpected ids %s %s", a, b)
	}
	if IsTempID("c1") {
		t.Fatal("c1 is not temporary")
	}
	if AreaKey("c1", "") != "c1" || AreaKey("c1", "r1") != "c1:r1" {
		t.Fatal("unexpected area keys")
	}
	if k, ok := KindFromResource("cards"); !ok || k != KindCard {
		t.Fatalf("unexpected kind %s", k)
	}
}
