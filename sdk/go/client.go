package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model.
type Case struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CurrentStageID string `json:"current_stage_id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Transition is one recorded stage move.
type Transition struct {
	ID                string  `json:"id"`
	FromStageID       *string `json:"from_stage_id,omitempty"`
	ToStageID         string  `json:"to_stage_id"`
	FromLabelSnapshot string  `json:"from_label_snapshot,omitempty"`
	ToLabelSnapshot   string  `json:"to_label_snapshot"`
	ChangedBy         string  `json:"changed_by"`
	Reason            string  `json:"reason,omitempty"`
	ChangedAt         string  `json:"changed_at"`
	EffectiveAt       string  `json:"effective_at"`
	RecordedAt        string  `json:"recorded_at"`
	Label             string  `json:"label,omitempty"`
	IsBackdated       bool    `json:"is_backdated,omitempty"`
}

// Activity is a case log entry.
type Activity struct {
	ID           int64          `json:"id"`
	CaseID       string         `json:"case_id"`
	ActivityType string         `json:"activity_type"`
	Actor        string         `json:"actor"`
	Details      map[string]any `json:"details,omitempty"`
	Summary      string         `json:"summary"`
	CreatedAt    string         `json:"created_at"`
}

// Task is a follow-up item.
type Task struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	DueDate     string  `json:"due_date,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Stage is a pipeline stage.
type Stage struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Label     string `json:"label"`
	Color     string `json:"color,omitempty"`
	StageType string `json:"stage_type"`
	Order     int    `json:"order"`
	IsActive  bool   `json:"is_active"`
}

// Bucket groups the activity that happened while a case sat in one stage.
type Bucket struct {
	Stage           Stage        `json:"stage"`
	IsCurrent       bool         `json:"is_current"`
	IsBackdated     bool         `json:"is_backdated"`
	DefaultExpanded bool         `json:"default_expanded"`
	Expanded        bool         `json:"expanded"`
	ActivityCount   int          `json:"activity_count"`
	Transitions     []Transition `json:"transitions"`
	Activities      []Activity   `json:"activities"`
}

// Timeline is the stage-partitioned case history.
type Timeline struct {
	CaseID         string `json:"case_id"`
	CurrentStageID string `json:"current_stage_id"`
	GeneratedAt    string `json:"generated_at"`
	NextSteps      struct {
		Overdue  []Task `json:"overdue"`
		Upcoming []Task `json:"upcoming"`
	} `json:"next_steps"`
	Buckets     []Bucket `json:"buckets"`
	Diagnostics struct {
		DroppedActivityIDs  []int64  `json:"dropped_activity_ids"`
		UnknownStageIDs     []string `json:"unknown_stage_ids"`
		MalformedTimestamps int      `json:"malformed_timestamps"`
	} `json:"diagnostics"`
}

// TimelineOptions override per-stage expansion.
type TimelineOptions struct {
	Expand   []string
	Collapse []string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase opens a case. stage may be empty for the first pipeline stage.
func (c *Client) CreateCase(ctx context.Context, name, stage string) (Case, error) {
	body := map[string]any{"name": name}
	if stage != "" {
		body["stage"] = stage
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, casePath(caseID, ""), nil, &resp)
	return resp, err
}

// MoveStage moves a case. A zero effectiveAt means now.
func (c *Client) MoveStage(ctx context.Context, caseID, stage string, effectiveAt time.Time, reason string) (Transition, error) {
	body := map[string]any{"stage": stage}
	if !effectiveAt.IsZero() {
		body["effective_at"] = effectiveAt.UTC().Format(time.RFC3339)
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, casePath(caseID, "stage"), body, &resp)
	return resp, err
}

// LogActivity appends a note, email or contact attempt.
func (c *Client) LogActivity(ctx context.Context, caseID, activityType string, details map[string]any) (Activity, error) {
	body := map[string]any{"activity_type": activityType}
	if details != nil {
		body["details"] = details
	}
	var resp Activity
	err := c.do(ctx, http.MethodPost, casePath(caseID, "activities"), body, &resp)
	return resp, err
}

// CreateTask adds a follow-up. A zero due time leaves it undated.
func (c *Client) CreateTask(ctx context.Context, caseID, title string, due time.Time) (Task, error) {
	body := map[string]any{"title": title}
	if !due.IsZero() {
		body["due_date"] = due.UTC().Format(time.RFC3339)
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, casePath(caseID, "tasks"), body, &resp)
	return resp, err
}

// SetTaskStatus completes or cancels a task.
func (c *Client) SetTaskStatus(ctx context.Context, caseID, taskID, status string) (Task, error) {
	var resp Task
	endpoint := casePath(caseID, fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Timeline returns the stage-partitioned timeline of a case.
func (c *Client) Timeline(ctx context.Context, caseID string, opts TimelineOptions) (Timeline, error) {
	endpoint := casePath(caseID, "timeline")
	q := url.Values{}
	if len(opts.Expand) > 0 {
		q.Set("expand", strings.Join(opts.Expand, ","))
	}
	if len(opts.Collapse) > 0 {
		q.Set("collapse", strings.Join(opts.Collapse, ","))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Timeline
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func casePath(caseID, p string) string {
	base := "v0/cases/" + url.PathEscape(caseID)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
