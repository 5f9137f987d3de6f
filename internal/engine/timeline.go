package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dayline/internal/config"
	"dayline/internal/domain"
)

const dateLayout = "2006-01-02"

// BuildTimeline assembles the full day timeline for an owner: weekly
// templates expanded to the date, prep buffers in front of kinds that need
// them, commitments due that day, and free intervals filling every gap so
// the result covers the owner's window without holes.
func (e Engine) BuildTimeline(ctx context.Context, ownerID, date string) (domain.Timeline, error) {
	cfg, err := e.configFor(ctx, ownerID)
	if err != nil {
		return domain.Timeline{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return domain.Timeline{}, err
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return e.buildTimelineAt(ctx, cfg, ownerID, day)
}

func (e Engine) buildTimelineAt(ctx context.Context, cfg *config.Config, ownerID string, day time.Time) (domain.Timeline, error) {
	loc := day.Location()
	startMin, endMin, err := cfg.WindowMinutes()
	if err != nil {
		return domain.Timeline{}, fmt.Errorf("owner %s: %w", ownerID, err)
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	windowStart := dayStart.Add(time.Duration(startMin) * time.Minute)
	windowEnd := dayStart.Add(time.Duration(endMin) * time.Minute)

	templates, err := e.Repo.ListTemplates(ctx, ownerID)
	if err != nil {
		return domain.Timeline{}, err
	}

	items := make([]domain.Interval, 0, len(templates)*2)
	for _, tpl := range templates {
		iv := ExpandTemplate(tpl, dayStart, loc)
		if iv == nil {
			continue
		}
		if cfg.NeedsPrep(iv.Kind) && cfg.Scheduling.PrepMinutes > 0 {
			prep := domain.Interval{
				Start:    iv.Start.Add(-time.Duration(cfg.Scheduling.PrepMinutes) * time.Minute),
				End:      iv.Start,
				Title:    "Prep for " + iv.Title,
				Kind:     domain.KindPrep,
				Fixed:    true,
				SourceID: iv.SourceID,
			}
			items = append(items, prep)
		}
		items = append(items, *iv)
	}

	due, err := e.Repo.ListDueCommitments(ctx, ownerID, dayStart, dayEnd)
	if err != nil {
		return domain.Timeline{}, err
	}
	for _, c := range due {
		items = append(items, domain.Interval{
			Start:    *c.Due,
			End:      c.Due.Add(time.Duration(c.DurationMinutes) * time.Minute),
			Title:    c.Title,
			Kind:     domain.KindTask,
			SourceID: c.ID,
			Priority: c.Priority,
		})
	}

	// Stable sort keeps insertion order for equal starts, so templates and
	// their prep buffers win ties against same-start commitments.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Start.Before(items[j].Start)
	})

	out := make([]domain.Interval, 0, len(items)+len(items)/2+1)
	cursor := windowStart
	for _, iv := range items {
		// Entirely behind the cursor or outside the window: nothing
		// visible remains.
		if !iv.End.After(cursor) || !iv.Start.Before(windowEnd) {
			continue
		}
		if iv.Start.Before(cursor) {
			iv.Start = cursor
		}
		if iv.End.After(windowEnd) {
			iv.End = windowEnd
		}
		if iv.Start.After(cursor) {
			out = append(out, freeInterval(cursor, iv.Start))
		}
		out = append(out, iv)
		cursor = iv.End
	}
	if cursor.Before(windowEnd) {
		out = append(out, freeInterval(cursor, windowEnd))
	}

	return domain.Timeline{
		OwnerID:     ownerID,
		Date:        dayStart.Format(dateLayout),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Intervals:   out,
	}, nil
}

// CurrentDate returns today's date string in the owner's timezone, used
// when a caller omits the date parameter.
func (e Engine) CurrentDate(ctx context.Context, ownerID string) (string, error) {
	cfg, err := e.configFor(ctx, ownerID)
	if err != nil {
		return "", err
	}
	loc, err := cfg.Location()
	if err != nil {
		return "", err
	}
	return e.now().In(loc).Format(dateLayout), nil
}

func freeInterval(start, end time.Time) domain.Interval {
	return domain.Interval{
		Start: start,
		End:   end,
		Title: "Free",
		Kind:  domain.KindFree,
	}
}
