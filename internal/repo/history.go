package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

// InsertTransition appends a stage move and returns its rowid, which orders
// transitions by insertion.
func (r Repo) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.StageTransition) (int64, error) {
	var from any
	if t.FromStageID != nil {
		from = *t.FromStageID
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO stage_history(id,case_id,from_stage_id,to_stage_id,from_label_snapshot,to_label_snapshot,changed_by,reason,changed_at,effective_at,recorded_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CaseID, from, t.ToStageID, t.FromLabelSnapshot, t.ToLabelSnapshot, t.ChangedBy, t.Reason, t.ChangedAt, t.EffectiveAt, t.RecordedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListHistory returns a case's stage transitions in insertion order. The
// timeline sorts by effective time itself.
func (r Repo) ListHistory(ctx context.Context, caseID string) ([]domain.StageTransition, error) {
	return r.ListHistoryTx(ctx, nil, caseID)
}

func (r Repo) ListHistoryTx(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.StageTransition, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT rowid,id,case_id,from_stage_id,to_stage_id,from_label_snapshot,to_label_snapshot,changed_by,reason,changed_at,effective_at,recorded_at
FROM stage_history WHERE case_id=? ORDER BY rowid`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		var from sql.NullString
		if err := rows.Scan(&t.Seq, &t.ID, &t.CaseID, &from, &t.ToStageID, &t.FromLabelSnapshot, &t.ToLabelSnapshot, &t.ChangedBy, &t.Reason, &t.ChangedAt, &t.EffectiveAt, &t.RecordedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			v := from.String
			t.FromStageID = &v
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
