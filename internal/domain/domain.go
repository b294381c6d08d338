package domain

import "time"

// TimeLayout is the stored timestamp form: UTC with fixed-width nanoseconds,
// so stored values sort lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Stamp formats t for storage.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// StageType distinguishes ordinary pipeline steps from outcome stages.
type StageType string

const (
	StageTypeOrdinary StageType = "ordinary"
	StageTypeTerminal StageType = "terminal"
)

type Stage struct {
	ID        string    `json:"id" yaml:"id"`
	Slug      string    `json:"slug" yaml:"slug"`
	Label     string    `json:"label" yaml:"label"`
	Color     string    `json:"color,omitempty" yaml:"color"`
	StageType StageType `json:"stage_type" yaml:"stage_type" enum:"ordinary,terminal"`
	Order     int       `json:"order" yaml:"order"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
}

func (s Stage) IsTerminal() bool {
	return s.StageType == StageTypeTerminal
}

// StageTransition is one stage move. The three timestamps carry different
// meanings and are never interchangeable:
//   - ChangedAt: when the UI action producing the record happened.
//   - EffectiveAt: the business time the move is considered to take effect.
//   - RecordedAt: when the row was persisted.
type StageTransition struct {
	ID                string  `json:"id"`
	CaseID            string  `json:"case_id"`
	FromStageID       *string `json:"from_stage_id,omitempty"`
	ToStageID         string  `json:"to_stage_id"`
	FromLabelSnapshot string  `json:"from_label_snapshot,omitempty"`
	ToLabelSnapshot   string  `json:"to_label_snapshot"`
	ChangedBy         string  `json:"changed_by"`
	Reason            string  `json:"reason,omitempty"`
	ChangedAt         string  `json:"changed_at" format:"date-time"`
	EffectiveAt       string  `json:"effective_at" format:"date-time"`
	RecordedAt        string  `json:"recorded_at" format:"date-time"`
	// Seq is the storage insertion order; zero when not loaded from storage.
	Seq int64 `json:"seq,omitempty"`
}

type Case struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CurrentStageID string `json:"current_stage_id"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

type Task struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	DueDate     string  `json:"due_date,omitempty" format:"date-time"`
	Status      string  `json:"status" enum:"pending,completed,cancelled"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Open reports whether the task still needs doing.
func (t Task) Open() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, "done", "canceled":
		return false
	}
	return true
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	KeyHash   string   `json:"key_hash"`
	Roles     []string `json:"roles,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
