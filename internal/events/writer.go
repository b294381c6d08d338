package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

// Writer appends activities to a case's log.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Append records an activity inside tx. details may be nil, a json.RawMessage,
// or any value that marshals to a JSON object.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, caseID, activityType, actor string, details any) (domain.Activity, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if caseID == "" {
		return domain.Activity{}, fmt.Errorf("case id required")
	}
	if activityType == "" {
		return domain.Activity{}, fmt.Errorf("activity type required")
	}
	var raw json.RawMessage
	switch v := details.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return domain.Activity{}, fmt.Errorf("marshal activity details: %w", err)
		}
		raw = data
	}
	a := domain.Activity{
		CaseID:       caseID,
		ActivityType: activityType,
		Actor:        actor,
		Details:      raw,
		CreatedAt:    domain.Stamp(w.Now()),
	}
	id, err := w.Repo.InsertActivity(ctx, tx, a)
	if err != nil {
		return domain.Activity{}, err
	}
	a.ID = id
	return a, nil
}
