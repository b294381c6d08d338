package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const taskColumns = `id,case_id,title,due_date,status,created_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var completed sql.NullString
	if err := scan(&t.ID, &t.CaseID, &t.Title, &t.DueDate, &t.Status, &t.CreatedAt, &completed); err != nil {
		return t, err
	}
	if completed.Valid {
		v := completed.String
		t.CompletedAt = &v
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.CaseID, t.Title, t.DueDate, t.Status, t.CreatedAt, t.CompletedAt)
	return err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, caseID, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE case_id=? AND id=?`, caseID, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks for a case. openOnly filters to pending tasks.
func (r Repo) ListTasks(ctx context.Context, caseID string, openOnly bool) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE case_id=?`
	if openOnly {
		query += ` AND status='pending'`
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, caseID, id, status string, completedAt *string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=? WHERE case_id=? AND id=?`, status, completedAt, caseID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
