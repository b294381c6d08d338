package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"caseline/internal/domain"
)

const activityColumns = `id,case_id,activity_type,actor,details_json,created_at`

func scanActivities(rows *sql.Rows) ([]domain.Activity, error) {
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var details sql.NullString
		if err := rows.Scan(&a.ID, &a.CaseID, &a.ActivityType, &a.Actor, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			a.Details = json.RawMessage(details.String)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertActivity appends an activity and returns its id.
func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) (int64, error) {
	var details any
	if len(a.Details) > 0 {
		details = string(a.Details)
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO activities(case_id,activity_type,actor,details_json,created_at) VALUES (?,?,?,?,?)`,
		a.CaseID, a.ActivityType, a.Actor, details, a.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListActivities returns a case's activities, newest first.
func (r Repo) ListActivities(ctx context.Context, caseID string, limit int) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE case_id=? ORDER BY created_at DESC, id DESC`
	args := []any{caseID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanActivities(rows)
}

// ListActivitiesAfter returns activities across all cases with id greater
// than afterID, oldest first.
func (r Repo) ListActivitiesAfter(ctx context.Context, afterID int64, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanActivities(rows)
}

func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM activities`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
