package server

import (
	"time"

	"dayline/internal/domain"
)

// Request payloads

type CreateTemplateRequest struct {
	Title           string `json:"title"`
	Kind            string `json:"kind" enum:"class,work,meal,break,routine"`
	StartTime       string `json:"start_time" example:"09:00"`
	DurationMinutes int    `json:"duration_minutes"`
	Days            []int  `json:"days"`
}

type UpdateTemplateRequest struct {
	Title           *string `json:"title,omitempty"`
	Kind            *string `json:"kind,omitempty" enum:"class,work,meal,break,routine"`
	StartTime       *string `json:"start_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Days            []int   `json:"days,omitempty"`
}

type CreateCommitmentRequest struct {
	Title           string     `json:"title"`
	Notes           *string    `json:"notes,omitempty"`
	Due             *time.Time `json:"due,omitempty" format:"date-time"`
	DurationMinutes int        `json:"duration_minutes"`
	Priority        *string    `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Recurrence      *string    `json:"recurrence,omitempty" enum:"none,daily,weekly,monthly"`
	Force           bool       `json:"force,omitempty"`
}

type UpdateCommitmentRequest struct {
	Title           *string    `json:"title,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Due             *time.Time `json:"due,omitempty" format:"date-time"`
	ClearDue        bool       `json:"clear_due,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Priority        *string    `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Recurrence      *string    `json:"recurrence,omitempty" enum:"none,daily,weekly,monthly"`
	Force           bool       `json:"force,omitempty"`
}

type ConflictCheckRequest struct {
	Start           time.Time `json:"start" format:"date-time"`
	DurationMinutes int       `json:"duration_minutes"`
	ExcludeID       string    `json:"exclude_id,omitempty"`
}

// Response payloads

type TimelineResponse struct {
	Body domain.Timeline
}

type TemplateResponse struct {
	Body domain.Template
}

type TemplateListResponse struct {
	Body struct {
		Templates []domain.Template `json:"templates"`
	}
}

type CommitmentResponse struct {
	Body domain.Commitment
}

type CommitmentListResponse struct {
	Body struct {
		Commitments []domain.Commitment `json:"commitments"`
	}
}

type ConflictCheckResponse struct {
	Body struct {
		Conflict *domain.Conflict `json:"conflict"`
	}
}

type ScheduleResponse struct {
	Body domain.ScheduleResult
}

type EventListResponse struct {
	Body struct {
		Events []domain.Event `json:"events"`
	}
}
