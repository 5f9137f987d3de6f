package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dayline/internal/config"
	"dayline/internal/domain"
)

// Repo is the storage collaborator: templates, commitments, reminders and
// owner configs over sqlite. The engine only ever reads and writes through
// this surface.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- owners ---

func (r Repo) EnsureOwner(ctx context.Context, tx *sql.Tx, id, name, createdAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO owners(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, nullable(name), createdAt)
	return err
}

func (r Repo) GetOwner(ctx context.Context, id string) (domain.Owner, error) {
	var o domain.Owner
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM owners WHERE id=?`, id).
		Scan(&o.ID, &name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if name.Valid {
		o.Name = name.String
	}
	return o, err
}

func (r Repo) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM owners ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Owner
	for rows.Next() {
		var o domain.Owner
		var name sql.NullString
		if err := rows.Scan(&o.ID, &name, &o.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			o.Name = name.String
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- owner configs ---

func (r Repo) UpsertOwnerConfig(ctx context.Context, ownerID string, cfg *config.Config) error {
	return upsertOwnerConfig(ctx, r.DB, nil, ownerID, cfg)
}

func (r Repo) UpsertOwnerConfigTx(ctx context.Context, tx *sql.Tx, ownerID string, cfg *config.Config) error {
	return upsertOwnerConfig(ctx, nil, tx, ownerID, cfg)
}

func upsertOwnerConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, ownerID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Owner.ID = ownerID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO owner_configs(owner_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(owner_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, ownerID, string(payload), now, now)
	return err
}

func (r Repo) GetOwnerConfig(ctx context.Context, ownerID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM owner_configs WHERE owner_id=?`, ownerID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Owner.ID == "" {
		cfg.Owner.ID = ownerID
	}
	return &cfg, cfg.Validate()
}

// --- routine templates ---

// encodeDays stores the weekday set as a CSV of 0..6 (0=Monday).
func encodeDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(csv string) []int {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var days []int
	for _, p := range strings.Split(csv, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days
}

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO routine_templates(id,owner_id,title,kind,start_time,duration_minutes,days_of_week,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, t.Kind, t.StartTime, t.DurationMinutes, encodeDays(t.Days), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	res, err := tx.ExecContext(ctx, `UPDATE routine_templates SET title=?, kind=?, start_time=?, duration_minutes=?, days_of_week=?, updated_at=? WHERE id=?`,
		t.Title, t.Kind, t.StartTime, t.DurationMinutes, encodeDays(t.Days), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM routine_templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTemplate(scan func(...any) error) (domain.Template, error) {
	var t domain.Template
	var days string
	err := scan(&t.ID, &t.OwnerID, &t.Title, &t.Kind, &t.StartTime, &t.DurationMinutes, &days, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Days = decodeDays(days)
	return t, nil
}

const templateCols = `id,owner_id,title,kind,start_time,duration_minutes,days_of_week,created_at,updated_at`

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM routine_templates WHERE id=?`, id)
	return scanTemplate(row.Scan)
}

// ListTemplates returns all of an owner's fixed-commitment templates in
// creation order, which the timeline builder relies on for tie-breaking.
func (r Repo) ListTemplates(ctx context.Context, ownerID string) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateCols+` FROM routine_templates WHERE owner_id=? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- commitments ---

const commitmentCols = `id,owner_id,title,notes,due,duration_minutes,priority,completed,recurrence,created_at,updated_at,completed_at`

func scanCommitment(scan func(...any) error) (domain.Commitment, error) {
	var c domain.Commitment
	var notes, due, completedAt sql.NullString
	var completed int
	err := scan(&c.ID, &c.OwnerID, &c.Title, &notes, &due, &c.DurationMinutes, &c.Priority, &completed, &c.Recurrence, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if notes.Valid {
		c.Notes = notes.String
	}
	if due.Valid {
		ts, err := time.Parse(time.RFC3339, due.String)
		if err != nil {
			return c, fmt.Errorf("commitment %s: bad due %q: %w", c.ID, due.String, err)
		}
		c.Due = &ts
	}
	c.Completed = completed != 0
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	return c, nil
}

func dueValue(due *time.Time) any {
	if due == nil {
		return nil
	}
	return due.UTC().Format(time.RFC3339)
}

func (r Repo) InsertCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commitments(`+commitmentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.Title, nullable(c.Notes), dueValue(c.Due), c.DurationMinutes, c.Priority,
		boolInt(c.Completed), c.Recurrence, c.CreatedAt, c.UpdatedAt, nullableStringPtr(c.CompletedAt))
	return err
}

func (r Repo) UpdateCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET title=?, notes=?, due=?, duration_minutes=?, priority=?, completed=?, recurrence=?, updated_at=?, completed_at=? WHERE id=?`,
		c.Title, nullable(c.Notes), dueValue(c.Due), c.DurationMinutes, c.Priority,
		boolInt(c.Completed), c.Recurrence, c.UpdatedAt, nullableStringPtr(c.CompletedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCommitment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM commitments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCommitment(ctx context.Context, id string) (domain.Commitment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id)
	return scanCommitment(row.Scan)
}

func (r Repo) GetCommitmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Commitment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id)
	return scanCommitment(row.Scan)
}

type CommitmentFilters struct {
	OwnerID   string
	Completed *bool
	Unplaced  *bool
	Limit     int
}

func (r Repo) ListCommitments(ctx context.Context, f CommitmentFilters) ([]domain.Commitment, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Completed != nil {
		clauses = append(clauses, "completed=?")
		args = append(args, boolInt(*f.Completed))
	}
	if f.Unplaced != nil {
		if *f.Unplaced {
			clauses = append(clauses, "due IS NULL")
		} else {
			clauses = append(clauses, "due IS NOT NULL")
		}
	}
	query := `SELECT ` + commitmentCols + ` FROM commitments WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY due IS NULL, due ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryCommitments(ctx, query, args...)
}

// ListDueCommitments returns incomplete commitments whose due instant falls
// within [dayStart, dayEnd), in due order then creation order.
func (r Repo) ListDueCommitments(ctx context.Context, ownerID string, dayStart, dayEnd time.Time) ([]domain.Commitment, error) {
	query := `SELECT ` + commitmentCols + ` FROM commitments
WHERE owner_id=? AND completed=0 AND due IS NOT NULL AND due>=? AND due<?
ORDER BY due ASC, created_at ASC, id ASC`
	return r.queryCommitments(ctx, query, ownerID, dayStart.UTC().Format(time.RFC3339), dayEnd.UTC().Format(time.RFC3339))
}

// ListUnplacedCommitments returns incomplete commitments with no due
// instant, ordered by priority (urgent first) then creation order. The
// ordering is part of the auto-scheduler's contract.
func (r Repo) ListUnplacedCommitments(ctx context.Context, ownerID string) ([]domain.Commitment, error) {
	query := `SELECT ` + commitmentCols + ` FROM commitments
WHERE owner_id=? AND completed=0 AND due IS NULL
ORDER BY
	CASE priority
		WHEN 'urgent' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		ELSE 3
	END,
	created_at ASC,
	id ASC`
	return r.queryCommitments(ctx, query, ownerID)
}

func (r Repo) queryCommitments(ctx context.Context, query string, args ...any) ([]domain.Commitment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateDueInstant sets a commitment's due instant (auto-scheduler writes).
func (r Repo) UpdateDueInstant(ctx context.Context, tx *sql.Tx, id string, due time.Time, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE commitments SET due=?, updated_at=? WHERE id=?`,
		due.UTC().Format(time.RFC3339), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkComplete flips the completion flag; it is a no-op when already set.
// The returned bool reports whether a row actually transitioned.
func (r Repo) MarkComplete(ctx context.Context, tx *sql.Tx, id, completedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET completed=1, completed_at=?, updated_at=? WHERE id=? AND completed=0`,
		completedAt, completedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- reminders ---

func (r Repo) InsertReminder(ctx context.Context, tx *sql.Tx, rem domain.Reminder) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO reminders(id,commitment_id,remind_at,sent,created_at) VALUES (?,?,?,?,?)`,
		rem.ID, rem.CommitmentID, rem.RemindAt, boolInt(rem.Sent), rem.CreatedAt)
	return err
}

// DeletePendingReminders clears unsent reminders for a commitment, used
// when its due instant changes or it completes.
func (r Repo) DeletePendingReminders(ctx context.Context, tx *sql.Tx, commitmentID string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `DELETE FROM reminders WHERE commitment_id=? AND sent=0`, commitmentID)
	return err
}

// ListDueReminders returns unsent reminders whose remind_at is at or before
// the cutoff, joined with their commitment.
func (r Repo) ListDueReminders(ctx context.Context, cutoff time.Time) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,commitment_id,remind_at,sent,created_at FROM reminders
WHERE sent=0 AND remind_at<=? ORDER BY remind_at ASC`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		var sent int
		if err := rows.Scan(&rem.ID, &rem.CommitmentID, &rem.RemindAt, &sent, &rem.CreatedAt); err != nil {
			return nil, err
		}
		rem.Sent = sent != 0
		res = append(res, rem)
	}
	return res, rows.Err()
}

// MarkReminderSent marks one reminder delivered.
func (r Repo) MarkReminderSent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE reminders SET sent=1 WHERE id=? AND sent=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, ownerID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, ownerID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for an owner.
func (r Repo) LatestEventID(ctx context.Context, ownerID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE owner_id=?`, ownerID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ownerID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ownerID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if ownerID.Valid {
			e.OwnerID = ownerID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
