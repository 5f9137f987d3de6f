package ics_test

import (
	"strings"
	"testing"
	"time"

	"dayline/internal/domain"
	"dayline/internal/ics"
)

func TestExport(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tl := domain.Timeline{
		OwnerID:     "alice",
		Date:        "2024-01-01",
		WindowStart: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC),
		Intervals: []domain.Interval{
			{Start: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), End: start, Title: "Free", Kind: domain.KindFree},
			{Start: start, End: start.Add(time.Hour), Title: "Algorithms", Kind: domain.KindClass, Fixed: true, SourceID: "tpl-1"},
		},
	}

	out := ics.Export(tl)
	if !strings.Contains(out, "BEGIN:VCALENDAR") || !strings.Contains(out, "END:VCALENDAR") {
		t.Fatalf("not a calendar:\n%s", out)
	}
	if !strings.Contains(out, "SUMMARY:Algorithms") {
		t.Fatalf("missing event summary:\n%s", out)
	}
	if strings.Contains(out, "SUMMARY:Free") {
		t.Fatalf("free interval exported:\n%s", out)
	}
	if !strings.Contains(out, "DTSTART:20240101T090000Z") {
		t.Fatalf("missing dtstart:\n%s", out)
	}
	if !strings.Contains(out, "X-DAYLINE-SOURCE:tpl-1") {
		t.Fatalf("missing source property:\n%s", out)
	}
}
