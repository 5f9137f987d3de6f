package daylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dayline HTTP API client.
type Client struct {
	BaseURL     string
	OwnerID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, ownerID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OwnerID: ownerID,
		Timeout: 10 * time.Second,
	}
}

// Interval is one block on a built timeline.
type Interval struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	SourceID string `json:"source_id,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Timeline is one owner's built day.
type Timeline struct {
	OwnerID   string     `json:"owner_id"`
	Date      string     `json:"date"`
	Intervals []Interval `json:"intervals"`
}

// Template represents a weekly fixed block.
type Template struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Title           string `json:"title"`
	Kind            string `json:"kind"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Days            []int  `json:"days"`
}

// Commitment represents an ad-hoc item (partial).
type Commitment struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Title           string `json:"title"`
	Due             string `json:"due,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Priority        string `json:"priority"`
	Recurrence      string `json:"recurrence"`
	Completed       bool   `json:"completed"`
}

// Conflict describes why a placement was refused.
type Conflict struct {
	Blocking       Interval `json:"blocking"`
	Reason         string   `json:"reason"`
	SuggestedStart string   `json:"suggested_start"`
}

// ScheduleResult reports one auto-schedule pass.
type ScheduleResult struct {
	Placed   []string `json:"placed,omitempty"`
	Unplaced []string `json:"unplaced,omitempty"`
	Timeline Timeline `json:"timeline"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ConflictError is returned when a placement collides with the timeline.
// Retry with Force set, or at SuggestedStart.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflict: %s (suggested start %s)", e.Conflict.Reason, e.Conflict.SuggestedStart)
}

// Timeline builds and returns the owner's timeline for a date (YYYY-MM-DD,
// empty for today).
func (c *Client) Timeline(ctx context.Context, date string) (Timeline, error) {
	endpoint := c.ownerPath("timeline")
	if date != "" {
		endpoint = fmt.Sprintf("%s?date=%s", endpoint, url.QueryEscape(date))
	}
	var resp Timeline
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTemplate registers a weekly fixed block.
func (c *Client) CreateTemplate(ctx context.Context, title, kind, startTime string, durationMinutes int, days []int) (Template, error) {
	body := map[string]any{
		"title":            title,
		"kind":             kind,
		"start_time":       startTime,
		"duration_minutes": durationMinutes,
		"days":             days,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, c.ownerPath("templates"), body, &resp)
	return resp, err
}

// CommitmentInput carries the fields for a new commitment. A zero Due leaves
// it unplaced.
type CommitmentInput struct {
	Title           string `json:"title"`
	Notes           string `json:"notes,omitempty"`
	Due             string `json:"due,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Priority        string `json:"priority,omitempty"`
	Recurrence      string `json:"recurrence,omitempty"`
	Force           bool   `json:"force,omitempty"`
}

// CreateCommitment adds a commitment. A refused placement comes back as a
// *ConflictError.
func (c *Client) CreateCommitment(ctx context.Context, in CommitmentInput) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, c.ownerPath("commitments"), in, &resp)
	return resp, err
}

// CompleteCommitment marks a commitment done.
func (c *Client) CompleteCommitment(ctx context.Context, id string) (Commitment, error) {
	var resp Commitment
	endpoint := fmt.Sprintf("v0/commitments/%s/complete", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CheckConflict probes a proposed placement without writing anything. A nil
// return means the slot is clear.
func (c *Client) CheckConflict(ctx context.Context, start string, durationMinutes int, excludeID string) (*Conflict, error) {
	body := map[string]any{
		"start":            start,
		"duration_minutes": durationMinutes,
	}
	if excludeID != "" {
		body["exclude_id"] = excludeID
	}
	var resp struct {
		Conflict *Conflict `json:"conflict"`
	}
	err := c.do(ctx, http.MethodPost, c.ownerPath("conflicts"), body, &resp)
	return resp.Conflict, err
}

// AutoSchedule places unplaced commitments into the date's free gaps.
func (c *Client) AutoSchedule(ctx context.Context, date string) (ScheduleResult, error) {
	body := map[string]any{"date": date}
	var resp ScheduleResult
	err := c.do(ctx, http.MethodPost, c.ownerPath("schedule/auto"), body, &resp)
	return resp, err
}

// Events returns the owner's most recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.ownerPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusConflict {
			if ce := parseConflict(b); ce != nil {
				return ce
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseConflict(body []byte) *ConflictError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Blocking       Interval `json:"blocking"`
				SuggestedStart string   `json:"suggested_start"`
			} `json:"details"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "schedule_conflict" {
		return nil
	}
	return &ConflictError{Conflict: Conflict{
		Blocking:       envelope.Error.Details.Blocking,
		Reason:         envelope.Error.Message,
		SuggestedStart: envelope.Error.Details.SuggestedStart,
	}}
}

func (c *Client) ownerPath(p string) string {
	owner := url.PathEscape(c.OwnerID)
	return fmt.Sprintf("v0/owners/%s/%s", owner, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
