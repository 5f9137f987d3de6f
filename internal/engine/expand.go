package engine

import (
	"time"

	"github.com/teambition/rrule-go"

	"dayline/internal/config"
	"dayline/internal/domain"
)

// rruleWeekdays maps the stored weekday index (0=Monday .. 6=Sunday) onto
// rrule weekday constants.
var rruleWeekdays = []rrule.Weekday{
	rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU,
}

// ExpandTemplate materializes a weekly template against one calendar date.
// It returns the concrete fixed interval for that date, or nil when the
// date's weekday is not part of the template's recurrence. Templates are
// validated at creation time, so a malformed one is simply skipped here.
func ExpandTemplate(tpl domain.Template, date time.Time, loc *time.Location) *domain.Interval {
	offset, err := config.ParseClock(tpl.StartTime)
	if err != nil || tpl.DurationMinutes <= 0 || len(tpl.Days) == 0 {
		return nil
	}

	byweekday := make([]rrule.Weekday, 0, len(tpl.Days))
	for _, d := range tpl.Days {
		if d < 0 || d >= len(rruleWeekdays) {
			return nil
		}
		byweekday = append(byweekday, rruleWeekdays[d])
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	// Anchor the rule a week back so the target date itself is always a
	// candidate occurrence.
	anchor := dayStart.AddDate(0, 0, -7).Add(time.Duration(offset) * time.Minute)
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byweekday,
		Dtstart:   anchor,
	})
	if err != nil {
		return nil
	}

	occurrences := rule.Between(dayStart, dayEnd.Add(-time.Second), true)
	if len(occurrences) == 0 {
		return nil
	}

	start := occurrences[0]
	return &domain.Interval{
		Start:    start,
		End:      start.Add(time.Duration(tpl.DurationMinutes) * time.Minute),
		Title:    tpl.Title,
		Kind:     tpl.Kind,
		Fixed:    true,
		SourceID: tpl.ID,
	}
}
