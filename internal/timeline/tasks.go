package timeline

import (
	"sort"
	"strings"
	"time"

	"caseline/internal/domain"
)

const (
	NextStepsHeading = "Next Steps"
	OverdueLabel     = "Overdue"
	UpcomingLabel    = "Upcoming"
)

// TaskBuckets splits open tasks into overdue and upcoming.
type TaskBuckets struct {
	Overdue  []domain.Task `json:"overdue"`
	Upcoming []domain.Task `json:"upcoming"`
}

// Empty reports whether there are no open tasks.
func (b TaskBuckets) Empty() bool {
	return len(b.Overdue) == 0 && len(b.Upcoming) == 0
}

type datedTask struct {
	task  domain.Task
	due   time.Time
	noDue bool
}

// BucketTasks splits open tasks into overdue (due before now) and upcoming
// (due at or after now), each earliest-due first. Closed tasks are skipped.
// Tasks without a due date are upcoming and sort last; malformed due dates
// degrade to Epoch and therefore read as overdue.
func BucketTasks(tasks []domain.Task, now time.Time) TaskBuckets {
	var overdue, upcoming []datedTask
	for _, t := range tasks {
		if !t.Open() {
			continue
		}
		dt := datedTask{task: t}
		if strings.TrimSpace(t.DueDate) == "" {
			dt.noDue = true
			upcoming = append(upcoming, dt)
			continue
		}
		dt.due, _ = ParseTime(t.DueDate)
		if dt.due.Before(now) {
			overdue = append(overdue, dt)
		} else {
			upcoming = append(upcoming, dt)
		}
	}
	return TaskBuckets{
		Overdue:  sortTasks(overdue),
		Upcoming: sortTasks(upcoming),
	}
}

func sortTasks(items []datedTask) []domain.Task {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.noDue != b.noDue {
			return !a.noDue
		}
		if !a.due.Equal(b.due) {
			return a.due.Before(b.due)
		}
		return a.task.ID < b.task.ID
	})
	out := make([]domain.Task, 0, len(items))
	for _, it := range items {
		out = append(out, it.task)
	}
	return out
}
