package timeline

import (
	"time"

	"caseline/internal/domain"
)

func day(d, hour int) string {
	return time.Date(2024, 1, d, hour, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func dayTime(d, hour int) time.Time {
	return time.Date(2024, 1, d, hour, 0, 0, 0, time.UTC)
}

func testStages() []domain.Stage {
	return []domain.Stage{
		{ID: "disqualified", Slug: "disqualified", Label: "Disqualified", StageType: domain.StageTypeTerminal, Order: 90, IsActive: true},
		{ID: "new_unread", Slug: "new-unread", Label: "New Unread", StageType: domain.StageTypeOrdinary, Order: 1, IsActive: true},
		{ID: "contacted", Slug: "contacted", Label: "Contacted", StageType: domain.StageTypeOrdinary, Order: 2, IsActive: true},
		{ID: "qualified", Slug: "qualified", Label: "Qualified", StageType: domain.StageTypeOrdinary, Order: 3, IsActive: true},
	}
}

// move builds a transition whose three timestamps all equal at.
func move(id string, from *string, to string, at string) domain.StageTransition {
	return domain.StageTransition{
		ID:          id,
		CaseID:      "case-1",
		FromStageID: from,
		ToStageID:   to,
		ChangedBy:   "tester",
		ChangedAt:   at,
		EffectiveAt: at,
		RecordedAt:  at,
	}
}

func ptr(s string) *string { return &s }

func note(id int64, at, text string) domain.Activity {
	return domain.Activity{
		ID:           id,
		CaseID:       "case-1",
		ActivityType: domain.ActivityNoteAdded,
		Actor:        "tester",
		Details:      []byte(`{"preview":"` + text + `"}`),
		CreatedAt:    at,
	}
}
