package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
)

func bucketIDs(t Timeline) []string {
	out := make([]string, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		out = append(out, b.Stage.ID)
	}
	return out
}

func activityIDs(items []domain.Activity) []int64 {
	out := make([]int64, 0, len(items))
	for _, a := range items {
		out = append(out, a.ID)
	}
	return out
}

// backdatedInput moves new_unread -> contacted -> qualified, where the move
// into contacted was entered on day 6 but takes effect on day 3.
func backdatedInput() Input {
	backdated := move("t2", ptr("new_unread"), "contacted", day(3, 0))
	backdated.ChangedAt = day(6, 0)
	backdated.RecordedAt = day(6, 0)
	return Input{
		Stages:         testStages(),
		CurrentStageID: "qualified",
		CaseCreatedAt:  day(1, 0),
		History: []domain.StageTransition{
			move("t3", ptr("contacted"), "qualified", day(8, 0)),
			backdated,
			move("t1", nil, "new_unread", day(1, 0)),
		},
		Activities: []domain.Activity{
			note(4, day(9, 0), "welcome packet sent"),
			note(2, day(4, 0), "left voicemail"),
			note(1, day(2, 0), "form submitted"),
			note(3, day(7, 0), "spoke with applicant"),
		},
		Now: dayTime(10, 0),
	}
}

func TestAssembleClassifiesByEffectiveTime(t *testing.T) {
	tl := Assemble(backdatedInput())
	require.Equal(t, []string{"new_unread", "contacted", "qualified"}, bucketIDs(tl))

	newUnread, contacted, qualified := tl.Buckets[0], tl.Buckets[1], tl.Buckets[2]
	assert.Equal(t, []int64{1}, activityIDs(newUnread.Activities))
	assert.Equal(t, []int64{2, 3}, activityIDs(contacted.Activities),
		"activity between effective_at and changed_at belongs to the backdated stage")
	assert.Equal(t, []int64{4}, activityIDs(qualified.Activities))
	assert.Empty(t, tl.Diagnostics.DroppedActivityIDs)
	assert.Zero(t, tl.Diagnostics.MalformedTimestamps)
}

func TestAssembleBucketsContainTheirActivities(t *testing.T) {
	in := backdatedInput()
	tl := Assemble(in)
	ivs := BuildIntervals(in.History, in.CurrentStageID)
	for _, b := range tl.Buckets {
		for _, act := range b.Activities {
			at, _ := ParseTime(act.CreatedAt)
			idx, ok := Classify(at, ivs)
			require.True(t, ok)
			assert.Equal(t, b.Stage.ID, ivs[idx].StageID)
		}
	}
}

func TestAssembleDefaultExpansion(t *testing.T) {
	in := backdatedInput()
	tl := Assemble(in)
	newUnread, contacted, qualified := tl.Buckets[0], tl.Buckets[1], tl.Buckets[2]

	assert.True(t, qualified.IsCurrent)
	assert.True(t, qualified.DefaultExpanded)
	assert.True(t, qualified.Expanded)

	assert.False(t, newUnread.IsCurrent)
	assert.False(t, newUnread.IsBackdated)
	assert.False(t, newUnread.DefaultExpanded)
	assert.False(t, newUnread.Expanded)

	assert.False(t, contacted.IsCurrent)
	assert.True(t, contacted.IsBackdated)
	assert.True(t, contacted.DefaultExpanded)
	require.Len(t, contacted.Transitions, 1)
	assert.True(t, contacted.Transitions[0].IsBackdated)
	assert.Equal(t, "Entered Contacted", contacted.Transitions[0].Label)
}

func TestAssembleBackdateTolerance(t *testing.T) {
	in := backdatedInput()
	tl := NewAssembler(7 * 24 * time.Hour).Assemble(in)
	contacted, ok := tl.Bucket("contacted")
	require.True(t, ok)
	assert.False(t, contacted.IsBackdated)
	assert.False(t, contacted.DefaultExpanded)
}

func TestAssembleTerminalLabel(t *testing.T) {
	t1 := move("t1", nil, "new_unread", day(1, 0))
	t1.ToLabelSnapshot = "New Unread"
	t2 := move("t2", ptr("new_unread"), "disqualified", day(2, 0))
	t2.FromLabelSnapshot = "New Unread"
	t2.ToLabelSnapshot = "Disqualified"
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "disqualified",
		History:        []domain.StageTransition{t1, t2},
	})
	b, ok := tl.Bucket("disqualified")
	require.True(t, ok)
	require.Len(t, b.Transitions, 1)
	assert.Equal(t, "New Unread -> Disqualified", b.Transitions[0].Label)

	nu, ok := tl.Bucket("new_unread")
	require.True(t, ok)
	assert.Equal(t, "Entered New Unread", nu.Transitions[0].Label)
}

func TestTransitionLabelFallsBackToDirectory(t *testing.T) {
	dir := NewDirectory(testStages())
	tr := move("t", ptr("contacted"), "disqualified", day(1, 0))
	assert.Equal(t, "Contacted -> Disqualified", TransitionLabel(tr, dir))

	tr.FromStageID = nil
	assert.Equal(t, "Entered Disqualified", TransitionLabel(tr, dir))
}

func TestAssembleDropsUnmatchedActivities(t *testing.T) {
	in := backdatedInput()
	in.Activities = append(in.Activities, note(9, "2023-12-31T00:00:00Z", "orphan"))
	tl := Assemble(in)
	assert.Equal(t, []int64{9}, tl.Diagnostics.DroppedActivityIDs)
	for _, b := range tl.Buckets {
		assert.NotContains(t, activityIDs(b.Activities), int64(9))
	}
	assert.Len(t, tl.Buckets, 3, "no fallback bucket is created")
}

func TestAssembleUnknownStageDropsInterval(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "contacted",
		History: []domain.StageTransition{
			move("t1", nil, "new_unread", day(1, 0)),
			move("t2", ptr("new_unread"), "ghost", day(3, 0)),
			move("t3", ptr("ghost"), "contacted", day(5, 0)),
		},
		Activities: []domain.Activity{
			note(1, day(2, 0), "a"),
			note(2, day(4, 0), "during ghost"),
			note(3, day(6, 0), "c"),
		},
	})
	assert.Equal(t, []string{"new_unread", "contacted"}, bucketIDs(tl))
	assert.Equal(t, []string{"ghost"}, tl.Diagnostics.UnknownStageIDs)
	assert.Equal(t, []int64{2}, tl.Diagnostics.DroppedActivityIDs)
}

func TestAssembleEmptyHistoryRendersCurrentStage(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "contacted",
		CaseCreatedAt:  day(3, 0),
		Activities: []domain.Activity{
			note(1, day(2, 0), "before creation"),
			note(2, day(4, 0), "after creation"),
		},
	})
	require.Len(t, tl.Buckets, 1)
	b := tl.Buckets[0]
	assert.Equal(t, "contacted", b.Stage.ID)
	assert.True(t, b.IsCurrent)
	assert.True(t, b.Expanded)
	assert.NotNil(t, b.Transitions)
	assert.Empty(t, b.Transitions)
	assert.Equal(t, []int64{2}, activityIDs(b.Activities))
	assert.Equal(t, []int64{1}, tl.Diagnostics.DroppedActivityIDs)
}

func TestAssembleEmptyHistoryUnknownCreation(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "contacted",
		Activities:     []domain.Activity{note(1, "2001-01-01T00:00:00Z", "old")},
	})
	require.Len(t, tl.Buckets, 1)
	assert.Equal(t, []int64{1}, activityIDs(tl.Buckets[0].Activities))
}

func TestAssembleNothingKnown(t *testing.T) {
	tl := Assemble(Input{
		Stages:     testStages(),
		Activities: []domain.Activity{note(1, day(1, 0), "lost")},
	})
	assert.Empty(t, tl.Buckets)
	assert.Equal(t, []int64{1}, tl.Diagnostics.DroppedActivityIDs)
}

func TestAssembleMalformedTimestamps(t *testing.T) {
	bad := move("t1", nil, "new_unread", day(1, 0))
	bad.EffectiveAt = "not-a-time"
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "contacted",
		History: []domain.StageTransition{
			move("t2", ptr("new_unread"), "contacted", day(3, 0)),
			bad,
		},
		Activities: []domain.Activity{
			note(1, day(1, 0), "kept in first stage"),
			note(2, "garbage", "sorted first"),
		},
	})
	assert.Equal(t, 2, tl.Diagnostics.MalformedTimestamps)
	nu, ok := tl.Bucket("new_unread")
	require.True(t, ok)
	assert.Equal(t, []int64{2, 1}, activityIDs(nu.Activities), "placeholder time sorts first")
	assert.False(t, nu.IsBackdated)
}

func TestAssembleOrdersBucketsByStageOrder(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "new_unread",
		History: []domain.StageTransition{
			move("t1", nil, "qualified", day(1, 0)),
			move("t2", ptr("qualified"), "contacted", day(2, 0)),
			move("t3", ptr("contacted"), "new_unread", day(3, 0)),
		},
	})
	assert.Equal(t, []string{"new_unread", "contacted", "qualified"}, bucketIDs(tl))
	assert.True(t, tl.Buckets[0].IsCurrent)
}

func TestAssembleMergesRevisitedStage(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "new_unread",
		History: []domain.StageTransition{
			move("t1", nil, "new_unread", day(1, 0)),
			move("t2", ptr("new_unread"), "contacted", day(3, 0)),
			move("t3", ptr("contacted"), "new_unread", day(5, 0)),
		},
		Activities: []domain.Activity{
			note(1, day(2, 0), "first visit"),
			note(2, day(4, 0), "contacted"),
			note(3, day(6, 0), "second visit"),
		},
	})
	require.Equal(t, []string{"new_unread", "contacted"}, bucketIDs(tl))
	nu := tl.Buckets[0]
	assert.Len(t, nu.Transitions, 2)
	assert.Equal(t, []int64{1, 3}, activityIDs(nu.Activities))
	assert.True(t, nu.IsCurrent)
}

func TestAssembleOverriddenCurrentStage(t *testing.T) {
	tl := Assemble(Input{
		Stages:         testStages(),
		CurrentStageID: "qualified",
		History: []domain.StageTransition{
			move("t1", nil, "new_unread", day(1, 0)),
			move("t2", ptr("new_unread"), "contacted", day(3, 0)),
		},
		Activities: []domain.Activity{note(1, day(4, 0), "after last move")},
	})
	assert.Equal(t, []string{"new_unread", "qualified"}, bucketIDs(tl))
	q := tl.Buckets[1]
	assert.True(t, q.IsCurrent)
	assert.Empty(t, q.Transitions, "the defining move targets another stage")
	assert.Equal(t, []int64{1}, activityIDs(q.Activities))
}

func TestAssembleIsIdempotent(t *testing.T) {
	in := backdatedInput()
	in.Tasks = []domain.Task{
		{ID: "a", DueDate: day(2, 0), Status: domain.TaskStatusPending},
		{ID: "b", DueDate: day(20, 0), Status: domain.TaskStatusPending},
	}
	first := Assemble(in)
	second := Assemble(in)
	assert.Equal(t, first, second)

	reversed := in
	reversed.History = append([]domain.StageTransition(nil), in.History...)
	reversed.Activities = append([]domain.Activity(nil), in.Activities...)
	for i, j := 0, len(reversed.History)-1; i < j; i, j = i+1, j-1 {
		reversed.History[i], reversed.History[j] = reversed.History[j], reversed.History[i]
	}
	for i, j := 0, len(reversed.Activities)-1; i < j; i, j = i+1, j-1 {
		reversed.Activities[i], reversed.Activities[j] = reversed.Activities[j], reversed.Activities[i]
	}
	assert.Equal(t, first, Assemble(reversed), "input order does not change the result")
}

func TestAssembleTasksIndependentOfStages(t *testing.T) {
	in := backdatedInput()
	in.Tasks = []domain.Task{
		{ID: "late", DueDate: day(9, 0), Status: domain.TaskStatusPending},
		{ID: "soon", DueDate: day(11, 0), Status: domain.TaskStatusPending},
	}
	tl := Assemble(in)
	assert.Equal(t, []string{"late"}, taskIDs(tl.Tasks.Overdue))
	assert.Equal(t, []string{"soon"}, taskIDs(tl.Tasks.Upcoming))
}
