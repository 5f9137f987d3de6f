package domain

import "time"

// Template and commitment kinds/priorities. Kept as plain strings in the
// structs (like their DB columns); the enum tags drive OpenAPI validation.

const (
	KindClass   = "class"
	KindWork    = "work"
	KindMeal    = "meal"
	KindBreak   = "break"
	KindRoutine = "routine"
	KindTask    = "task"
	KindPrep    = "prep"
	KindFree    = "free"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// PriorityRank orders priorities for scheduling; higher is scheduled first.
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// Owner is the person whose day is being planned.
type Owner struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Template is a weekly-recurring fixed commitment (class, work block, meal).
type Template struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Title           string `json:"title"`
	Kind            string `json:"kind" enum:"class,work,meal,break,routine"`
	StartTime       string `json:"start_time"` // "HH:MM" offset into the day
	DurationMinutes int    `json:"duration_minutes"`
	Days            []int  `json:"days"` // 0=Monday .. 6=Sunday
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

// Commitment is an ad-hoc item. A nil Due means it is unplaced and is
// eligible for auto-scheduling.
type Commitment struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes,omitempty"`
	Due             *time.Time `json:"due,omitempty" format:"date-time"`
	DurationMinutes int        `json:"duration_minutes"`
	Priority        string     `json:"priority" enum:"low,medium,high,urgent"`
	Completed       bool       `json:"completed"`
	Recurrence      string     `json:"recurrence" enum:"none,daily,weekly,monthly"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
	CompletedAt     *string    `json:"completed_at,omitempty" format:"date-time"`
}

// Unplaced reports whether the commitment has no due instant yet.
func (c Commitment) Unplaced() bool { return c.Due == nil }

// Interval is one slice of a built day timeline. Intervals are ephemeral:
// rebuilt on every request, never stored. SourceID points back at the
// template or commitment that produced a non-synthetic interval.
type Interval struct {
	Start    time.Time `json:"start" format:"date-time"`
	End      time.Time `json:"end" format:"date-time"`
	Title    string    `json:"title"`
	Kind     string    `json:"kind" enum:"class,work,meal,break,routine,task,prep,free"`
	Fixed    bool      `json:"fixed"`
	SourceID string    `json:"source_id,omitempty"`
	Priority string    `json:"priority,omitempty"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Free reports whether this is a synthesized gap filler.
func (iv Interval) Free() bool { return iv.Kind == KindFree }

// Overlaps is the half-open overlap test against [start, end).
func (iv Interval) Overlaps(start, end time.Time) bool {
	return iv.Start.Before(end) && iv.End.After(start)
}

// Timeline is the gap-free, overlap-free partition of one day window.
type Timeline struct {
	OwnerID     string     `json:"owner_id"`
	Date        string     `json:"date"` // YYYY-MM-DD in the owner's zone
	WindowStart time.Time  `json:"window_start" format:"date-time"`
	WindowEnd   time.Time  `json:"window_end" format:"date-time"`
	Intervals   []Interval `json:"intervals"`
}

// Conflict describes a blocked slot. Reason carries the first blocking
// interval's title; Blocking is the last blocking interval by end time and
// SuggestedStart is that interval's end.
type Conflict struct {
	Blocking       Interval  `json:"blocking"`
	Reason         string    `json:"reason"`
	SuggestedStart time.Time `json:"suggested_start" format:"date-time"`
}

// ScheduleResult reports one auto-schedule pass.
type ScheduleResult struct {
	Placed   []string `json:"placed,omitempty"`   // commitment ids that got a due instant
	Unplaced []string `json:"unplaced,omitempty"` // commitment ids that did not fit
	Timeline Timeline `json:"timeline"`
}

// Reminder is a single pending notification for a commitment.
type Reminder struct {
	ID           string `json:"id"`
	CommitmentID string `json:"commitment_id"`
	RemindAt     string `json:"remind_at" format:"date-time"`
	Sent         bool   `json:"sent"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Event is one append-only audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates HTTP API callers.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
