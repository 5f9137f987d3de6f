package engine_test

import (
	"testing"
	"time"

	"dayline/internal/domain"
	"dayline/internal/engine"
)

func weeklyTemplate(days ...int) domain.Template {
	return domain.Template{
		ID:              "tpl-1",
		OwnerID:         "alice",
		Title:           "Algorithms",
		Kind:            domain.KindClass,
		StartTime:       "09:00",
		DurationMinutes: 90,
		Days:            days,
	}
}

func TestExpandTemplateWeekdayMembership(t *testing.T) {
	// 2024-01-01 is a Monday; walk the whole week against a Mon/Wed/Fri rule.
	tpl := weeklyTemplate(0, 2, 4)
	hits := map[int]bool{0: true, 2: true, 4: true}
	for offset := 0; offset < 7; offset++ {
		date := time.Date(2024, 1, 1+offset, 0, 0, 0, 0, time.UTC)
		iv := engine.ExpandTemplate(tpl, date, time.UTC)
		if hits[offset] {
			if iv == nil {
				t.Fatalf("day offset %d: expected an occurrence", offset)
			}
			wantStart := date.Add(9 * time.Hour)
			if !iv.Start.Equal(wantStart) || !iv.End.Equal(wantStart.Add(90*time.Minute)) {
				t.Fatalf("day offset %d: got [%s, %s]", offset, iv.Start, iv.End)
			}
			if !iv.Fixed || iv.SourceID != "tpl-1" || iv.Kind != domain.KindClass {
				t.Fatalf("day offset %d: interval fields wrong: %+v", offset, iv)
			}
		} else if iv != nil {
			t.Fatalf("day offset %d: unexpected occurrence %+v", offset, iv)
		}
	}
}

func TestExpandTemplateSunday(t *testing.T) {
	// Weekday index 6 is Sunday; 2024-01-07 is the first Sunday of 2024.
	tpl := weeklyTemplate(6)
	if iv := engine.ExpandTemplate(tpl, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), time.UTC); iv == nil {
		t.Fatal("expected a Sunday occurrence")
	}
	if iv := engine.ExpandTemplate(tpl, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), time.UTC); iv != nil {
		t.Fatalf("Saturday should not match: %+v", iv)
	}
}

func TestExpandTemplateLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tpl := weeklyTemplate(0)
	iv := engine.ExpandTemplate(tpl, time.Date(2024, 1, 1, 0, 0, 0, 0, loc), loc)
	if iv == nil {
		t.Fatal("expected a Monday occurrence")
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, loc)
	if !iv.Start.Equal(want) {
		t.Fatalf("start = %s, want %s", iv.Start, want)
	}
}

func TestExpandTemplateSkipsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Template)
	}{
		{"empty days", func(tpl *domain.Template) { tpl.Days = nil }},
		{"day out of range", func(tpl *domain.Template) { tpl.Days = []int{7} }},
		{"bad start", func(tpl *domain.Template) { tpl.StartTime = "9am" }},
		{"zero duration", func(tpl *domain.Template) { tpl.DurationMinutes = 0 }},
	}
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := weeklyTemplate(0)
			tc.mutate(&tpl)
			if iv := engine.ExpandTemplate(tpl, date, time.UTC); iv != nil {
				t.Fatalf("expected nil, got %+v", iv)
			}
		})
	}
}
