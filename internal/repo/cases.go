package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseline/internal/domain"
)

const caseColumns = `id,name,current_stage_id,created_at,updated_at`

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, c.CurrentStageID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return r.GetCaseTx(ctx, nil, id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	var c domain.Case
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.CurrentStageID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// CaseFilters narrows ListCases.
type CaseFilters struct {
	StageID string
	Limit   int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.StageID != "" {
		clauses = append(clauses, "current_stage_id=?")
		args = append(args, f.StageID)
	}
	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(&c.ID, &c.Name, &c.CurrentStageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCaseStage(ctx context.Context, tx *sql.Tx, id, stageID, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE cases SET current_stage_id=?, updated_at=? WHERE id=?`, stageID, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
