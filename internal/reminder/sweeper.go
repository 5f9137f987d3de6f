// Package reminder runs the periodic sweep that turns stored reminder rows
// into reminder.due events once their instant passes. Delivery to webhooks
// happens downstream off the event log.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"dayline/internal/engine"
	"dayline/internal/events"
	"dayline/internal/repo"
)

const sweepSchedule = "* * * * *"

type Sweeper struct {
	Engine engine.Engine
	cron   *cron.Cron
}

func NewSweeper(e engine.Engine) *Sweeper {
	return &Sweeper{Engine: e}
}

// Start schedules the sweep once a minute until Stop is called.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(sweepSchedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("reminder sweep failed")
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Sweep fires every reminder whose instant has passed, returning how many
// were delivered. A reminder fires at most once: it is marked sent in the
// same pass that records its reminder.due event.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.Engine.Now()
	due, err := s.Engine.Repo.ListDueReminders(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, rem := range due {
		c, err := s.Engine.Repo.GetCommitment(ctx, rem.CommitmentID)
		if errors.Is(err, repo.ErrNotFound) {
			// Commitment vanished under the reminder; retire it quietly.
			if err := s.Engine.Repo.MarkReminderSent(ctx, rem.ID); err != nil {
				log.Warn().Err(err).Str("reminder", rem.ID).Msg("retire orphan reminder")
			}
			continue
		}
		if err != nil {
			return fired, err
		}
		if c.Completed {
			if err := s.Engine.Repo.MarkReminderSent(ctx, rem.ID); err != nil {
				log.Warn().Err(err).Str("reminder", rem.ID).Msg("retire stale reminder")
			}
			continue
		}

		tx, err := s.Engine.DB.BeginTx(ctx, nil)
		if err != nil {
			return fired, err
		}
		payload := events.EventPayload{
			"title":     c.Title,
			"remind_at": rem.RemindAt,
		}
		if c.Due != nil {
			payload["due"] = c.Due.UTC().Format(time.RFC3339)
		}
		if err := s.Engine.Events.Append(ctx, tx, "reminder.due", c.OwnerID, "reminder", rem.ID, "sweeper", payload); err != nil {
			tx.Rollback()
			return fired, err
		}
		if err := tx.Commit(); err != nil {
			return fired, err
		}
		if err := s.Engine.Repo.MarkReminderSent(ctx, rem.ID); err != nil {
			return fired, err
		}
		log.Info().Str("owner", c.OwnerID).Str("commitment", c.ID).Str("title", c.Title).Msg("reminder due")
		fired++
	}
	return fired, nil
}
