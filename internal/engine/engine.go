package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dayline/internal/config"
	"dayline/internal/domain"
	"dayline/internal/events"
	"dayline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	locks *ownerLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  &ownerLocks{m: map[string]*sync.Mutex{}},
	}
}

// ownerLocks serializes check-then-act sequences per owner, so two
// concurrent writes cannot both pass a conflict check and land on the same
// slot.
type ownerLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *ownerLocks) lock(ownerID string) func() {
	l.mu.Lock()
	m, ok := l.m[ownerID]
	if !ok {
		m = &sync.Mutex{}
		l.m[ownerID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// configFor resolves the effective config for an owner: their persisted row
// first, the engine's loaded config when it matches, the defaults otherwise.
func (e Engine) configFor(ctx context.Context, ownerID string) (*config.Config, error) {
	cfg, err := e.Repo.GetOwnerConfig(ctx, ownerID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Config != nil && e.Config.Owner.ID == ownerID {
		return e.Config, nil
	}
	return config.Default(ownerID), nil
}

// InitOwner registers an owner and persists their starting config.
func (e Engine) InitOwner(ctx context.Context, ownerID, name, actorID string) (domain.Owner, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Owner{}, err
	}
	defer tx.Rollback()

	o := domain.Owner{
		ID:        ownerID,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.EnsureOwner(ctx, tx, o.ID, o.Name, o.CreatedAt); err != nil {
		return domain.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	cfg := e.Config
	if cfg == nil || cfg.Owner.ID != ownerID {
		cfg = config.Default(ownerID)
	}
	if err := e.Repo.UpsertOwnerConfigTx(ctx, tx, ownerID, cfg); err != nil {
		return domain.Owner{}, fmt.Errorf("insert owner config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "owner.init", o.ID, "owner", o.ID, actorID, events.EventPayload{"name": o.Name}); err != nil {
		return domain.Owner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Owner{}, err
	}
	return o, nil
}

// --- templates ---

type TemplateCreateOptions struct {
	OwnerID         string
	Title           string
	Kind            string
	StartTime       string
	DurationMinutes int
	Days            []int
	ActorID         string
}

func validTemplateKind(kind string) bool {
	switch kind {
	case domain.KindClass, domain.KindWork, domain.KindMeal, domain.KindBreak, domain.KindRoutine:
		return true
	}
	return false
}

func validateTemplate(t domain.Template) error {
	if t.Title == "" {
		return errors.New("title is required")
	}
	if !validTemplateKind(t.Kind) {
		return fmt.Errorf("unknown template kind %q", t.Kind)
	}
	if _, err := config.ParseClock(t.StartTime); err != nil {
		return err
	}
	if t.DurationMinutes <= 0 {
		return fmt.Errorf("duration must be positive, got %d", t.DurationMinutes)
	}
	if len(t.Days) == 0 {
		return errors.New("at least one weekday is required")
	}
	seen := map[int]bool{}
	for _, d := range t.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("weekday out of range: %d", d)
		}
		if seen[d] {
			return fmt.Errorf("duplicate weekday: %d", d)
		}
		seen[d] = true
	}
	return nil
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Template{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OwnerID+"|tpl|"+opts.Title+"|"+now)).String(),
		OwnerID:         opts.OwnerID,
		Title:           opts.Title,
		Kind:            opts.Kind,
		StartTime:       opts.StartTime,
		DurationMinutes: opts.DurationMinutes,
		Days:            opts.Days,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateTemplate(t); err != nil {
		return domain.Template{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOwner(ctx, tx, t.OwnerID, "", now); err != nil {
		return domain.Template{}, err
	}
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "template.created", t.OwnerID, "template", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "kind": t.Kind}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

type TemplateUpdateOptions struct {
	ID              string
	Title           *string
	Kind            *string
	StartTime       *string
	DurationMinutes *int
	Days            []int
	ActorID         string
}

func (e Engine) UpdateTemplate(ctx context.Context, opts TemplateUpdateOptions) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return domain.Template{}, err
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Kind != nil {
		t.Kind = *opts.Kind
	}
	if opts.StartTime != nil {
		t.StartTime = *opts.StartTime
	}
	if opts.DurationMinutes != nil {
		t.DurationMinutes = *opts.DurationMinutes
	}
	if opts.Days != nil {
		t.Days = opts.Days
	}
	if err := validateTemplate(t); err != nil {
		return domain.Template{}, err
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, err
	}
	if err := e.Events.Append(ctx, tx, "template.updated", t.OwnerID, "template", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTemplate(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "template.deleted", t.OwnerID, "template", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- commitments ---

type CommitmentCreateOptions struct {
	OwnerID         string
	Title           string
	Notes           string
	Due             *time.Time
	DurationMinutes int
	Priority        string
	Recurrence      string
	ActorID         string
	// Force skips the conflict check and places the commitment anyway.
	Force bool
}

func validateCommitmentFields(title string, durationMinutes int, priority, recurrence string) error {
	if title == "" {
		return errors.New("title is required")
	}
	if durationMinutes <= 0 {
		return fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}
	if domain.PriorityRank(priority) < 0 {
		return fmt.Errorf("unknown priority %q", priority)
	}
	switch recurrence {
	case domain.RecurrenceNone, domain.RecurrenceDaily, domain.RecurrenceWeekly, domain.RecurrenceMonthly:
	default:
		return fmt.Errorf("unknown recurrence %q", recurrence)
	}
	return nil
}

// CreateCommitment stores an ad-hoc item. When a due instant is given and
// Force is off, the slot is conflict-checked first under the owner's lock;
// a non-nil conflict return means nothing was written.
func (e Engine) CreateCommitment(ctx context.Context, opts CommitmentCreateOptions) (domain.Commitment, *domain.Conflict, error) {
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if opts.Recurrence == "" {
		opts.Recurrence = domain.RecurrenceNone
	}
	if err := validateCommitmentFields(opts.Title, opts.DurationMinutes, opts.Priority, opts.Recurrence); err != nil {
		return domain.Commitment{}, nil, err
	}

	unlock := e.locks.lock(opts.OwnerID)
	defer unlock()

	if opts.Due != nil && !opts.Force {
		conflict, err := e.CheckConflict(ctx, opts.OwnerID, *opts.Due, opts.DurationMinutes, "")
		if err != nil {
			return domain.Commitment{}, nil, err
		}
		if conflict != nil {
			return domain.Commitment{}, conflict, nil
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Commitment{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.OwnerID+"|"+opts.Title+"|"+now)).String(),
		OwnerID:         opts.OwnerID,
		Title:           opts.Title,
		Notes:           opts.Notes,
		Due:             opts.Due,
		DurationMinutes: opts.DurationMinutes,
		Priority:        opts.Priority,
		Recurrence:      opts.Recurrence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	cfg, err := e.configFor(ctx, opts.OwnerID)
	if err != nil {
		return domain.Commitment{}, nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOwner(ctx, tx, c.OwnerID, "", now); err != nil {
		return domain.Commitment{}, nil, err
	}
	if err := e.Repo.InsertCommitment(ctx, tx, c); err != nil {
		return domain.Commitment{}, nil, fmt.Errorf("insert commitment: %w", err)
	}
	if c.Due != nil {
		if err := e.scheduleReminder(ctx, tx, cfg, c.ID, *c.Due); err != nil {
			return domain.Commitment{}, nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "commitment.created", c.OwnerID, "commitment", c.ID, opts.ActorID, events.EventPayload{"title": c.Title, "priority": c.Priority}); err != nil {
		return domain.Commitment{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, nil, err
	}
	return c, nil, nil
}

type CommitmentUpdateOptions struct {
	ID              string
	Title           *string
	Notes           *string
	Due             *time.Time
	ClearDue        bool
	DurationMinutes *int
	Priority        *string
	Recurrence      *string
	ActorID         string
	Force           bool
}

func (e Engine) UpdateCommitment(ctx context.Context, opts CommitmentUpdateOptions) (domain.Commitment, *domain.Conflict, error) {
	c, err := e.Repo.GetCommitment(ctx, opts.ID)
	if err != nil {
		return domain.Commitment{}, nil, err
	}

	unlock := e.locks.lock(c.OwnerID)
	defer unlock()

	placementChanged := false
	if opts.Title != nil {
		c.Title = *opts.Title
	}
	if opts.Notes != nil {
		c.Notes = *opts.Notes
	}
	if opts.ClearDue {
		c.Due = nil
		placementChanged = true
	} else if opts.Due != nil {
		c.Due = opts.Due
		placementChanged = true
	}
	if opts.DurationMinutes != nil {
		c.DurationMinutes = *opts.DurationMinutes
		placementChanged = true
	}
	if opts.Priority != nil {
		c.Priority = *opts.Priority
	}
	if opts.Recurrence != nil {
		c.Recurrence = *opts.Recurrence
	}
	if err := validateCommitmentFields(c.Title, c.DurationMinutes, c.Priority, c.Recurrence); err != nil {
		return domain.Commitment{}, nil, err
	}

	if placementChanged && c.Due != nil && !opts.Force {
		conflict, err := e.CheckConflict(ctx, c.OwnerID, *c.Due, c.DurationMinutes, c.ID)
		if err != nil {
			return domain.Commitment{}, nil, err
		}
		if conflict != nil {
			return domain.Commitment{}, conflict, nil
		}
	}
	c.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	cfg, err := e.configFor(ctx, c.OwnerID)
	if err != nil {
		return domain.Commitment{}, nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return domain.Commitment{}, nil, err
	}
	if placementChanged {
		if err := e.Repo.DeletePendingReminders(ctx, tx, c.ID); err != nil {
			return domain.Commitment{}, nil, err
		}
		if c.Due != nil {
			if err := e.scheduleReminder(ctx, tx, cfg, c.ID, *c.Due); err != nil {
				return domain.Commitment{}, nil, err
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "commitment.updated", c.OwnerID, "commitment", c.ID, opts.ActorID, events.EventPayload{"title": c.Title}); err != nil {
		return domain.Commitment{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, nil, err
	}
	return c, nil, nil
}

func (e Engine) DeleteCommitment(ctx context.Context, id, actorID string) error {
	c, err := e.Repo.GetCommitment(ctx, id)
	if err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeletePendingReminders(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteCommitment(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "commitment.deleted", c.OwnerID, "commitment", c.ID, actorID, events.EventPayload{"title": c.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteCommitment marks a commitment done. Completing an already
// completed commitment is a no-op and returns the stored row unchanged.
// For recurring commitments a successor is spawned afterwards on a
// best-effort basis: a failure there never unwinds the completion.
func (e Engine) CompleteCommitment(ctx context.Context, id, actorID string) (domain.Commitment, error) {
	c, err := e.Repo.GetCommitment(ctx, id)
	if err != nil {
		return domain.Commitment{}, err
	}

	unlock := e.locks.lock(c.OwnerID)
	defer unlock()

	if c.Completed {
		return c, nil
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	transitioned, err := e.Repo.MarkComplete(ctx, tx, id, now)
	if err != nil {
		return domain.Commitment{}, err
	}
	if !transitioned {
		// Raced with another completion; nothing left to do.
		tx.Rollback()
		return e.Repo.GetCommitment(ctx, id)
	}
	if err := e.Repo.DeletePendingReminders(ctx, tx, id); err != nil {
		return domain.Commitment{}, err
	}
	if err := e.Events.Append(ctx, tx, "commitment.completed", c.OwnerID, "commitment", c.ID, actorID, events.EventPayload{"title": c.Title}); err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}

	c.Completed = true
	c.CompletedAt = &now
	c.UpdatedAt = now

	if c.Recurrence != domain.RecurrenceNone {
		if err := e.spawnSuccessor(ctx, c, actorID); err != nil {
			log.Warn().Err(err).Str("commitment", c.ID).Msg("successor creation failed")
			e.recordSuccessorFailure(ctx, c, actorID, err)
		}
	}
	return c, nil
}

// successorDue advances a due instant by one recurrence period. Monthly
// uses a fixed 30-day stride rather than calendar-month arithmetic.
func successorDue(due time.Time, recurrence string) time.Time {
	switch recurrence {
	case domain.RecurrenceDaily:
		return due.AddDate(0, 0, 1)
	case domain.RecurrenceWeekly:
		return due.AddDate(0, 0, 7)
	case domain.RecurrenceMonthly:
		return due.AddDate(0, 0, 30)
	}
	return due
}

func (e Engine) spawnSuccessor(ctx context.Context, done domain.Commitment, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	next := domain.Commitment{
		ID:              uuid.New().String(),
		OwnerID:         done.OwnerID,
		Title:           done.Title,
		Notes:           done.Notes,
		DurationMinutes: done.DurationMinutes,
		Priority:        done.Priority,
		Recurrence:      done.Recurrence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if done.Due != nil {
		d := successorDue(*done.Due, done.Recurrence)
		next.Due = &d
	}

	cfg, err := e.configFor(ctx, done.OwnerID)
	if err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCommitment(ctx, tx, next); err != nil {
		return err
	}
	if next.Due != nil {
		if err := e.scheduleReminder(ctx, tx, cfg, next.ID, *next.Due); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "commitment.successor.created", next.OwnerID, "commitment", next.ID, actorID, events.EventPayload{"predecessor": done.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordSuccessorFailure(ctx context.Context, done domain.Commitment, actorID string, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "commitment.successor.failed", done.OwnerID, "commitment", done.ID, actorID, events.EventPayload{"error": cause.Error()}); err != nil {
		return
	}
	_ = tx.Commit()
}

// scheduleReminder records a pending reminder at due minus the configured
// lead. Owners with a zero lead get no reminders.
func (e Engine) scheduleReminder(ctx context.Context, tx *sql.Tx, cfg *config.Config, commitmentID string, due time.Time) error {
	if cfg.Reminders.LeadMinutes <= 0 {
		return nil
	}
	remindAt := due.Add(-time.Duration(cfg.Reminders.LeadMinutes) * time.Minute)
	rem := domain.Reminder{
		ID:           uuid.New().String(),
		CommitmentID: commitmentID,
		RemindAt:     remindAt.UTC().Format(time.RFC3339),
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	return e.Repo.InsertReminder(ctx, tx, rem)
}
