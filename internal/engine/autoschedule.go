package engine

import (
	"context"
	"time"

	"dayline/internal/domain"
	"dayline/internal/events"
)

type freeSlot struct {
	start time.Time
	end   time.Time
}

// AutoSchedule walks the owner's undated commitments in priority order and
// packs them greedily into the free intervals of the given date, persisting
// a due instant for each one that fits. A single pass is made: commitments
// that fit nowhere are reported back unplaced and keep their null due.
func (e Engine) AutoSchedule(ctx context.Context, ownerID, date, actorID string) (domain.ScheduleResult, error) {
	unlock := e.locks.lock(ownerID)
	defer unlock()

	cfg, err := e.configFor(ctx, ownerID)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return domain.ScheduleResult{}, err
	}

	tl, err := e.buildTimelineAt(ctx, cfg, ownerID, day)
	if err != nil {
		return domain.ScheduleResult{}, err
	}

	// Only gaps longer than the configured threshold are worth filling;
	// slivers below it stay free.
	threshold := time.Duration(cfg.Scheduling.GapThresholdMinutes) * time.Minute
	var slots []freeSlot
	for _, iv := range tl.Intervals {
		if iv.Free() && iv.Duration() > threshold {
			slots = append(slots, freeSlot{start: iv.Start, end: iv.End})
		}
	}

	pending, err := e.Repo.ListUnplacedCommitments(ctx, ownerID)
	if err != nil {
		return domain.ScheduleResult{}, err
	}

	type placement struct {
		commitment domain.Commitment
		due        time.Time
	}
	var placed []placement
	var unplacedIDs []string
	for _, c := range pending {
		need := time.Duration(c.DurationMinutes) * time.Minute
		assigned := false
		for i := range slots {
			if slots[i].end.Sub(slots[i].start) >= need {
				placed = append(placed, placement{commitment: c, due: slots[i].start})
				slots[i].start = slots[i].start.Add(need)
				assigned = true
				break
			}
		}
		if !assigned {
			unplacedIDs = append(unplacedIDs, c.ID)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	defer tx.Rollback()

	placedIDs := make([]string, 0, len(placed))
	for _, p := range placed {
		if err := e.Repo.UpdateDueInstant(ctx, tx, p.commitment.ID, p.due, now); err != nil {
			return domain.ScheduleResult{}, err
		}
		if err := e.scheduleReminder(ctx, tx, cfg, p.commitment.ID, p.due); err != nil {
			return domain.ScheduleResult{}, err
		}
		placedIDs = append(placedIDs, p.commitment.ID)
	}
	if len(placed) > 0 || len(unplacedIDs) > 0 {
		payload := events.EventPayload{
			"date":     tl.Date,
			"placed":   len(placedIDs),
			"unplaced": len(unplacedIDs),
		}
		if err := e.Events.Append(ctx, tx, "schedule.auto", ownerID, "schedule", tl.Date, actorID, payload); err != nil {
			return domain.ScheduleResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleResult{}, err
	}

	final, err := e.buildTimelineAt(ctx, cfg, ownerID, day)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	return domain.ScheduleResult{
		Placed:   placedIDs,
		Unplaced: unplacedIDs,
		Timeline: final,
	}, nil
}
