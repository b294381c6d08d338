package server

import (
	"encoding/json"
	"time"

	"caseline/internal/domain"
	"caseline/internal/timeline"
)

// Request payloads

type CreateCaseRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" minLength:"1"`
	Stage string `json:"stage,omitempty" doc:"Stage id, slug or label; defaults to the first active stage"`
}

type ChangeStageRequest struct {
	Stage       string `json:"stage" minLength:"1" doc:"Stage id, slug or label"`
	EffectiveAt string `json:"effective_at,omitempty" doc:"When the move took effect; defaults to now"`
	Reason      string `json:"reason,omitempty"`
}

type LogActivityRequest struct {
	ActivityType string         `json:"activity_type" enum:"note_added,email_sent,email_received,contact_attempt"`
	Details      map[string]any `json:"details,omitempty"`
}

type CreateTaskRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title" minLength:"1"`
	DueDate string `json:"due_date,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"completed,cancelled"`
}

type CreateAPIKeyRequest struct {
	ActorID string   `json:"actor_id,omitempty" doc:"Key owner; defaults to the caller"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type MeResponse struct {
	Body struct {
		ActorID     string   `json:"actor_id"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
		Source      string   `json:"source"`
	}
}

type APIKeyDTO struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}

type CreatedAPIKeyDTO struct {
	APIKeyDTO
	Key string `json:"key"`
}

func toAPIKeyDTO(k domain.APIKey) APIKeyDTO {
	return APIKeyDTO{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Roles: nonNil(k.Roles), CreatedAt: k.CreatedAt}
}

type ActivityDTO struct {
	ID           int64          `json:"id"`
	CaseID       string         `json:"case_id"`
	ActivityType string         `json:"activity_type"`
	Actor        string         `json:"actor"`
	Details      map[string]any `json:"details,omitempty"`
	Summary      string         `json:"summary"`
	CreatedAt    string         `json:"created_at"`
}

type TransitionDTO struct {
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
	Label             string  `json:"label"`
	IsBackdated       bool    `json:"is_backdated"`
}

type BucketDTO struct {
	Stage           domain.Stage    `json:"stage"`
	IsCurrent       bool            `json:"is_current"`
	IsBackdated     bool            `json:"is_backdated"`
	DefaultExpanded bool            `json:"default_expanded"`
	Expanded        bool            `json:"expanded"`
	ActivityCount   int             `json:"activity_count"`
	Transitions     []TransitionDTO `json:"transitions"`
	Activities      []ActivityDTO   `json:"activities"`
}

type NextStepsDTO struct {
	Overdue  []domain.Task `json:"overdue"`
	Upcoming []domain.Task `json:"upcoming"`
}

type DiagnosticsDTO struct {
	DroppedActivityIDs  []int64  `json:"dropped_activity_ids"`
	UnknownStageIDs     []string `json:"unknown_stage_ids"`
	MalformedTimestamps int      `json:"malformed_timestamps"`
}

type TimelineDTO struct {
	CaseID         string         `json:"case_id"`
	CurrentStageID string         `json:"current_stage_id"`
	GeneratedAt    string         `json:"generated_at"`
	NextSteps      NextStepsDTO   `json:"next_steps"`
	Buckets        []BucketDTO    `json:"buckets"`
	Diagnostics    DiagnosticsDTO `json:"diagnostics"`
}

func toActivityDTO(a domain.Activity) ActivityDTO {
	out := ActivityDTO{
		ID:           a.ID,
		CaseID:       a.CaseID,
		ActivityType: a.ActivityType,
		Actor:        a.Actor,
		Summary:      a.Summary(),
		CreatedAt:    a.CreatedAt,
	}
	if len(a.Details) > 0 {
		var m map[string]any
		if err := json.Unmarshal(a.Details, &m); err == nil {
			out.Details = m
		}
	}
	return out
}

func toActivityDTOs(items []domain.Activity) []ActivityDTO {
	out := make([]ActivityDTO, 0, len(items))
	for _, a := range items {
		out = append(out, toActivityDTO(a))
	}
	return out
}

func toTimelineDTO(c domain.Case, tl timeline.Timeline, now time.Time) TimelineDTO {
	out := TimelineDTO{
		CaseID:         c.ID,
		CurrentStageID: c.CurrentStageID,
		GeneratedAt:    now.UTC().Format(time.RFC3339),
		NextSteps:      NextStepsDTO{Overdue: tl.Tasks.Overdue, Upcoming: tl.Tasks.Upcoming},
		Buckets:        make([]BucketDTO, 0, len(tl.Buckets)),
		Diagnostics: DiagnosticsDTO{
			DroppedActivityIDs:  nonNil(tl.Diagnostics.DroppedActivityIDs),
			UnknownStageIDs:     nonNil(tl.Diagnostics.UnknownStageIDs),
			MalformedTimestamps: tl.Diagnostics.MalformedTimestamps,
		},
	}
	for _, b := range tl.Buckets {
		dto := BucketDTO{
			Stage:           b.Stage,
			IsCurrent:       b.IsCurrent,
			IsBackdated:     b.IsBackdated,
			DefaultExpanded: b.DefaultExpanded,
			Expanded:        b.Expanded,
			ActivityCount:   len(b.Activities),
			Transitions:     make([]TransitionDTO, 0, len(b.Transitions)),
			Activities:      []ActivityDTO{},
		}
		for _, t := range b.Transitions {
			dto.Transitions = append(dto.Transitions, TransitionDTO{
				ID:                t.ID,
				FromStageID:       t.FromStageID,
				ToStageID:         t.ToStageID,
				FromLabelSnapshot: t.FromLabelSnapshot,
				ToLabelSnapshot:   t.ToLabelSnapshot,
				ChangedBy:         t.ChangedBy,
				Reason:            t.Reason,
				ChangedAt:         t.ChangedAt,
				EffectiveAt:       t.EffectiveAt,
				RecordedAt:        t.RecordedAt,
				Label:             t.Label,
				IsBackdated:       t.IsBackdated,
			})
		}
		// Collapsed buckets report a count only.
		if b.Expanded {
			dto.Activities = toActivityDTOs(b.Activities)
		}
		out.Buckets = append(out.Buckets, dto)
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
