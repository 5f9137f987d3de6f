package engine

import (
	"context"
	"fmt"
	"time"

	"dayline/internal/domain"
)

// CheckConflict tests a proposed placement against the day timeline of the
// date the start instant falls on. It returns nil when the slot is clear.
// Free intervals never block; everything else on the timeline does,
// including prep buffers. excludeID skips intervals sourced from that
// entity so an update does not collide with its own current placement.
func (e Engine) CheckConflict(ctx context.Context, ownerID string, start time.Time, durationMinutes int, excludeID string) (*domain.Conflict, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}
	cfg, err := e.configFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	local := start.In(loc)
	tl, err := e.buildTimelineAt(ctx, cfg, ownerID, local)
	if err != nil {
		return nil, err
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	var blocking []domain.Interval
	for _, iv := range tl.Intervals {
		if iv.Free() {
			continue
		}
		if excludeID != "" && iv.SourceID == excludeID {
			continue
		}
		if iv.Overlaps(start, end) {
			blocking = append(blocking, iv)
		}
	}
	if len(blocking) == 0 {
		return nil, nil
	}

	// Suggest the end of whichever blocker releases the slot last; the
	// reason names the first blocker the caller would run into.
	last := blocking[0]
	for _, iv := range blocking[1:] {
		if !iv.End.Before(last.End) {
			last = iv
		}
	}
	return &domain.Conflict{
		Blocking:       last,
		Reason:         fmt.Sprintf("overlaps %q", blocking[0].Title),
		SuggestedStart: last.End,
	}, nil
}
