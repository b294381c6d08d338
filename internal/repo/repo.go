package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nowRFC3339() string {
	return domain.Stamp(time.Now())
}

// UpsertStages writes the stage directory. Stages missing from the list are
// marked inactive rather than deleted so history rows keep resolving.
func (r Repo) UpsertStages(ctx context.Context, tx *sql.Tx, stages []domain.Stage) error {
	q := r.q(tx)
	keep := make([]any, 0, len(stages))
	for _, s := range stages {
		_, err := q.ExecContext(ctx, `INSERT INTO stages(id,slug,label,color,stage_type,sort_order,is_active) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, label=excluded.label, color=excluded.color,
  stage_type=excluded.stage_type, sort_order=excluded.sort_order, is_active=excluded.is_active`,
			s.ID, s.Slug, s.Label, s.Color, string(s.StageType), s.Order, boolInt(s.IsActive))
		if err != nil {
			return err
		}
		keep = append(keep, s.ID)
	}
	if len(keep) == 0 {
		_, err := q.ExecContext(ctx, `UPDATE stages SET is_active=0`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	_, err := q.ExecContext(ctx, `UPDATE stages SET is_active=0 WHERE id NOT IN (`+placeholders+`)`, keep...)
	return err
}

func (r Repo) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,slug,label,color,stage_type,sort_order,is_active FROM stages ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		var stageType string
		var active int
		if err := rows.Scan(&s.ID, &s.Slug, &s.Label, &s.Color, &stageType, &s.Order, &active); err != nil {
			return nil, err
		}
		s.StageType = domain.StageType(stageType)
		s.IsActive = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
