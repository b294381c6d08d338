// Package render draws a case timeline as terminal text.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"caseline/internal/domain"
	"caseline/internal/timeline"
)

const (
	expandedMarker  = "[-]"
	collapsedMarker = "[+]"
	backdatedBadge  = "back-entered"
	currentBadge    = "current"
)

type Options struct {
	Now   time.Time
	Color bool
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Timeline writes the Next Steps section followed by one block per stage
// bucket. Collapsed buckets print their header only.
func Timeline(w io.Writer, tl timeline.Timeline, opts Options) error {
	var b strings.Builder
	writeNextSteps(&b, tl.Tasks, opts)
	for _, bucket := range tl.Buckets {
		b.WriteString("\n")
		writeBucket(&b, bucket, opts)
	}
	if len(tl.Buckets) == 0 {
		b.WriteString("\nNo stage history.\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNextSteps(b *strings.Builder, tasks timeline.TaskBuckets, opts Options) {
	b.WriteString(heading(timeline.NextStepsHeading, opts))
	b.WriteString("\n")
	if tasks.Empty() {
		b.WriteString("  No open tasks.\n")
		return
	}
	if len(tasks.Overdue) > 0 {
		fmt.Fprintf(b, "%s (%d)\n", paint(timeline.OverdueLabel, text.FgRed, opts), len(tasks.Overdue))
		b.WriteString(taskTable(tasks.Overdue, opts))
	}
	if len(tasks.Upcoming) > 0 {
		fmt.Fprintf(b, "%s (%d)\n", timeline.UpcomingLabel, len(tasks.Upcoming))
		b.WriteString(taskTable(tasks.Upcoming, opts))
	}
}

func taskTable(tasks []domain.Task, opts Options) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Task", "Due", ""})
	for _, t := range tasks {
		due, rel := "-", "no due date"
		if t.DueDate != "" {
			if at, ok := timeline.ParseTime(t.DueDate); ok {
				due = at.Format("2006-01-02 15:04")
				rel = humanize.RelTime(at, opts.now(), "ago", "from now")
			} else {
				due = t.DueDate
				rel = "unreadable date"
			}
		}
		tw.AppendRow(table.Row{t.Title, due, rel})
	}
	return indent(tw.Render()) + "\n"
}

// BucketHeader is the one-line summary shown for every bucket.
func BucketHeader(bucket timeline.Bucket, opts Options) string {
	marker := collapsedMarker
	if bucket.Expanded {
		marker = expandedMarker
	}
	parts := []string{marker, heading(bucket.Stage.Label, opts)}
	if bucket.IsCurrent {
		parts = append(parts, paint("("+currentBadge+")", text.FgGreen, opts))
	}
	if bucket.IsBackdated {
		parts = append(parts, paint("("+backdatedBadge+")", text.FgYellow, opts))
	}
	parts = append(parts, fmt.Sprintf("- %s", pluralActivities(len(bucket.Activities))))
	return strings.Join(parts, " ")
}

func writeBucket(b *strings.Builder, bucket timeline.Bucket, opts Options) {
	b.WriteString(BucketHeader(bucket, opts))
	b.WriteString("\n")
	if !bucket.Expanded {
		return
	}
	for _, t := range bucket.Transitions {
		line := t.Label
		if at, ok := timeline.ParseTime(t.EffectiveAt); ok {
			line += fmt.Sprintf(" on %s (%s)", at.Format("2006-01-02 15:04"), humanize.RelTime(at, opts.now(), "ago", "from now"))
		}
		if t.ChangedBy != "" {
			line += " by " + t.ChangedBy
		}
		if t.IsBackdated {
			if rec, ok := timeline.ParseTime(t.RecordedAt); ok {
				line += ", recorded " + rec.Format("2006-01-02 15:04")
			}
		}
		b.WriteString("  " + line + "\n")
		if t.Reason != "" {
			b.WriteString("    Reason: " + t.Reason + "\n")
		}
	}
	if len(bucket.Activities) == 0 {
		b.WriteString("  No activity in this stage.\n")
		return
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"When", "Actor", "Activity"})
	for _, a := range bucket.Activities {
		when := a.CreatedAt
		if at, ok := timeline.ParseTime(a.CreatedAt); ok {
			when = at.Format("2006-01-02 15:04")
		}
		tw.AppendRow(table.Row{when, a.Actor, a.Summary()})
	}
	b.WriteString(indent(tw.Render()))
	b.WriteString("\n")
}

func pluralActivities(n int) string {
	if n == 1 {
		return "1 activity"
	}
	return fmt.Sprintf("%s activities", humanize.Comma(int64(n)))
}

func heading(s string, opts Options) string {
	return paint(s, text.Bold, opts)
}

func paint(s string, c text.Color, opts Options) string {
	if !opts.Color {
		return s
	}
	return c.Sprint(s)
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
