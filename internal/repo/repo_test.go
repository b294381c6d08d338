package repo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func seedCase(t *testing.T, r Repo, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.UpsertStages(ctx, nil, []domain.Stage{
		{ID: "new_unread", Slug: "new-unread", Label: "New Unread", StageType: domain.StageTypeOrdinary, Order: 1, IsActive: true},
	}))
	require.NoError(t, r.InsertCase(ctx, nil, domain.Case{
		ID: id, Name: "Jane", CurrentStageID: "new_unread",
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}))
}

func TestUpsertStagesDeactivatesMissing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	stages := []domain.Stage{
		{ID: "a", Slug: "a", Label: "A", StageType: domain.StageTypeOrdinary, Order: 1, IsActive: true},
		{ID: "b", Slug: "b", Label: "B", StageType: domain.StageTypeTerminal, Order: 2, IsActive: true},
	}
	require.NoError(t, r.UpsertStages(ctx, nil, stages))
	require.NoError(t, r.UpsertStages(ctx, nil, stages[:1]))

	got, err := r.ListStages(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsActive)
	assert.False(t, got[1].IsActive)
	assert.Equal(t, domain.StageTypeTerminal, got[1].StageType)
}

func TestCaseLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedCase(t, r, "c1")

	c, err := r.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new_unread", c.CurrentStageID)

	_, err = r.GetCase(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.UpdateCaseStage(ctx, nil, "c1", "contacted", "2024-01-02T00:00:00Z"))
	assert.ErrorIs(t, r.UpdateCaseStage(ctx, nil, "missing", "x", "y"), ErrNotFound)

	list, err := r.ListCases(ctx, CaseFilters{StageID: "contacted"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2024-01-02T00:00:00Z", list[0].UpdatedAt)
}

func TestHistoryPreservesNullFrom(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedCase(t, r, "c1")
	from := "new_unread"
	seq1, err := r.InsertTransition(ctx, nil, domain.StageTransition{
		ID: "h1", CaseID: "c1", ToStageID: "new_unread", ToLabelSnapshot: "New Unread", ChangedBy: "u",
		ChangedAt: "2024-01-01T00:00:00Z", EffectiveAt: "2024-01-01T00:00:00Z", RecordedAt: "2024-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	// Sorts before h1 by id but was inserted after it.
	seq2, err := r.InsertTransition(ctx, nil, domain.StageTransition{
		ID: "a2", CaseID: "c1", FromStageID: &from, ToStageID: "contacted", ToLabelSnapshot: "Contacted", ChangedBy: "u",
		ChangedAt: "2024-01-05T00:00:00Z", EffectiveAt: "2024-01-03T00:00:00Z", RecordedAt: "2024-01-05T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	hist, err := r.ListHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, []string{"h1", "a2"}, []string{hist[0].ID, hist[1].ID})
	assert.Equal(t, seq1, hist[0].Seq)
	assert.Equal(t, seq2, hist[1].Seq)
	assert.Nil(t, hist[0].FromStageID)
	require.NotNil(t, hist[1].FromStageID)
	assert.Equal(t, "new_unread", *hist[1].FromStageID)
	assert.Equal(t, "2024-01-03T00:00:00Z", hist[1].EffectiveAt)
}

func TestActivitiesCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedCase(t, r, "c1")

	latest, err := r.LatestActivityID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	details, _ := json.Marshal(domain.NoteDetails{Preview: "hi"})
	id1, err := r.InsertActivity(ctx, nil, domain.Activity{CaseID: "c1", ActivityType: domain.ActivityNoteAdded, Actor: "u", Details: details, CreatedAt: "2024-01-02T00:00:00Z"})
	require.NoError(t, err)
	id2, err := r.InsertActivity(ctx, nil, domain.Activity{CaseID: "c1", ActivityType: domain.ActivityEmailSent, Actor: "u", CreatedAt: "2024-01-03T00:00:00Z"})
	require.NoError(t, err)

	after, err := r.ListActivitiesAfter(ctx, id1, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, id2, after[0].ID)
	assert.Empty(t, after[0].Details)

	all, err := r.ListActivities(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id2, all[0].ID)
	assert.JSONEq(t, `{"preview":"hi"}`, string(all[1].Details))
}

func TestTasksStatus(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedCase(t, r, "c1")
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t1", CaseID: "c1", Title: "Call", DueDate: "2024-02-01T00:00:00Z", Status: domain.TaskStatusPending, CreatedAt: "2024-01-01T00:00:00Z"}))

	done := "2024-01-10T00:00:00Z"
	require.NoError(t, r.UpdateTaskStatus(ctx, nil, "c1", "t1", domain.TaskStatusCompleted, &done))
	open, err := r.ListTasks(ctx, "c1", true)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := r.GetTaskTx(ctx, nil, "c1", "t1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)

	_, err = r.GetTaskTx(ctx, nil, "c1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeysRoles(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	hash := HashAPIKey(" secret ")
	assert.Equal(t, HashAPIKey("secret"), hash)
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "alice", KeyHash: hash, Roles: []string{"coordinator"}}))

	key, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"coordinator"}, key.Roles)

	keys, err := r.ListAPIKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), ErrNotFound)
	_, err = r.GetAPIKeyByHash(ctx, hash)
	assert.ErrorIs(t, err, ErrNotFound)
}
