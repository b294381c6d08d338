package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ActivityCaseCreated    = "case_created"
	ActivityNoteAdded      = "note_added"
	ActivityEmailSent      = "email_sent"
	ActivityEmailReceived  = "email_received"
	ActivityContactAttempt = "contact_attempt"
	ActivityTaskCreated    = "task_created"
	ActivityTaskCompleted  = "task_completed"
	ActivityTaskCancelled  = "task_cancelled"
)

// KnownActivityTypes lists the activity tags accepted by the write side.
var KnownActivityTypes = []string{
	ActivityCaseCreated,
	ActivityNoteAdded,
	ActivityEmailSent,
	ActivityEmailReceived,
	ActivityContactAttempt,
	ActivityTaskCreated,
	ActivityTaskCompleted,
	ActivityTaskCancelled,
}

// Activity is an append-only log entry. Details holds a JSON payload whose
// shape is selected by ActivityType.
type Activity struct {
	ID           int64           `json:"id"`
	CaseID       string          `json:"case_id"`
	ActivityType string          `json:"activity_type"`
	Actor        string          `json:"actor"`
	Details      json.RawMessage `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

type NoteDetails struct {
	Preview string `json:"preview"`
}

type EmailDetails struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject,omitempty"`
}

type ContactAttemptDetails struct {
	Outcome string   `json:"outcome"`
	Methods []string `json:"methods"`
}

type TaskDetails struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

// IsKnownActivityType reports whether t is one of KnownActivityTypes.
func IsKnownActivityType(t string) bool {
	for _, k := range KnownActivityTypes {
		if k == t {
			return true
		}
	}
	return false
}

// DecodeDetails returns the typed details for a known activity type, or the
// generic map for anything else. A nil result with nil error means no details.
func (a Activity) DecodeDetails() (any, error) {
	if len(a.Details) == 0 || string(a.Details) == "null" {
		return nil, nil
	}
	var out any
	switch a.ActivityType {
	case ActivityNoteAdded:
		out = &NoteDetails{}
	case ActivityEmailSent, ActivityEmailReceived:
		out = &EmailDetails{}
	case ActivityContactAttempt:
		out = &ContactAttemptDetails{}
	case ActivityTaskCreated, ActivityTaskCompleted, ActivityTaskCancelled:
		out = &TaskDetails{}
	default:
		m := map[string]any{}
		if err := json.Unmarshal(a.Details, &m); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", a.ActivityType, err)
		}
		return m, nil
	}
	if err := json.Unmarshal(a.Details, out); err != nil {
		return nil, fmt.Errorf("decode %s details: %w", a.ActivityType, err)
	}
	return out, nil
}

// Summary is a one-line human description of the activity. Undecodable
// details fall back to the type name.
func (a Activity) Summary() string {
	d, err := a.DecodeDetails()
	if err != nil {
		return humanType(a.ActivityType)
	}
	switch v := d.(type) {
	case *NoteDetails:
		return "Note: " + v.Preview
	case *EmailDetails:
		verb := "Email sent"
		if a.ActivityType == ActivityEmailReceived {
			verb = "Email received"
		}
		if v.Subject != "" {
			return fmt.Sprintf("%s via %s: %s", verb, v.Provider, v.Subject)
		}
		return fmt.Sprintf("%s via %s", verb, v.Provider)
	case *ContactAttemptDetails:
		if len(v.Methods) == 0 {
			return "Contact attempt: " + v.Outcome
		}
		return fmt.Sprintf("Contact attempt (%s): %s", strings.Join(v.Methods, ", "), v.Outcome)
	case *TaskDetails:
		return fmt.Sprintf("%s: %s", humanType(a.ActivityType), v.Title)
	}
	return humanType(a.ActivityType)
}

func humanType(t string) string {
	if t == "" {
		return "Activity"
	}
	s := strings.ReplaceAll(t, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
