package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	return c
}

func caseRows(cases []domain.Case, dir *timeline.Directory) []table.Row {
	rows := make([]table.Row, 0, len(cases))
	for _, c := range cases {
		stage := c.CurrentStageID
		if s, ok := dir.Lookup(c.CurrentStageID); ok {
			stage = s.Label
		}
		updated := c.UpdatedAt
		if at, ok := timeline.ParseTime(c.UpdatedAt); ok {
			updated = humanize.Time(at)
		}
		rows = append(rows, table.Row{c.ID, c.Name, stage, updated})
	}
	return rows
}

var caseHeader = table.Row{"ID", "Name", "Stage", "Updated"}

func caseCreateCmd() *cobra.Command {
	var id, name, stage string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, engine.CaseCreateOptions{ID: id, Name: name, StageRef: stage, ActorID: actorID()})
				if err != nil {
					return err
				}
				dir, err := e.Directory(ctx)
				if err != nil {
					return err
				}
				return printTable(c, caseHeader, caseRows([]domain.Case{c}, dir))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "case id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "case name")
	cmd.Flags().StringVar(&stage, "stage", "", "starting stage id, slug or label")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func caseListCmd() *cobra.Command {
	var stage string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dir, err := e.Directory(ctx)
				if err != nil {
					return err
				}
				filters := repo.CaseFilters{Limit: limit}
				if stage != "" {
					s, ok := dir.Resolve(stage)
					if !ok {
						return fmt.Errorf("invalid stage %q", stage)
					}
					filters.StageID = s.ID
				}
				cases, err := e.Repo.ListCases(ctx, filters)
				if err != nil {
					return err
				}
				return printTable(cases, caseHeader, caseRows(cases, dir))
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by current stage")
	cmd.Flags().IntVar(&limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show CASE_ID",
		Short: "Show a case and its raw stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				hist, err := e.Repo.ListHistory(ctx, c.ID)
				if err != nil {
					return err
				}
				out := struct {
					domain.Case
					History []domain.StageTransition `json:"history"`
				}{c, hist}
				rows := make([]table.Row, 0, len(hist))
				for _, h := range hist {
					from := "-"
					if h.FromStageID != nil {
						from = h.FromLabelSnapshot
					}
					rows = append(rows, table.Row{from, h.ToLabelSnapshot, h.EffectiveAt, h.RecordedAt, h.ChangedBy, h.Reason})
				}
				if len(rows) > 0 && !jsonOutput() {
					fmt.Printf("%s (%s)\n", c.Name, c.ID)
				}
				return printTable(out, table.Row{"From", "To", "Effective", "Recorded", "By", "Reason"}, rows)
			})
		},
	}
}

func stageCmd() *cobra.Command {
	c := &cobra.Command{Use: "stage", Short: "Pipeline stages and stage moves"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pipeline stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dir, err := e.Directory(ctx)
				if err != nil {
					return err
				}
				stages := dir.Stages()
				rows := make([]table.Row, 0, len(stages))
				for _, s := range stages {
					rows = append(rows, table.Row{s.Order, s.ID, s.Label, s.StageType, s.IsActive})
				}
				return printTable(stages, table.Row{"Order", "ID", "Label", "Type", "Active"}, rows)
			})
		},
	})
	c.AddCommand(stageMoveCmd())
	return c
}

func stageMoveCmd() *cobra.Command {
	var effective, reason string
	cmd := &cobra.Command{
		Use:   "move CASE_ID STAGE",
		Short: "Move a case to a stage; --effective-at back-enters the move",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ChangeStage(ctx, engine.StageChangeOptions{
					CaseID:      args[0],
					StageRef:    args[1],
					EffectiveAt: effective,
					Reason:      reason,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(t)
				}
				fmt.Printf("%s: %s -> %s (effective %s)\n", t.CaseID, t.FromLabelSnapshot, t.ToLabelSnapshot, t.EffectiveAt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&effective, "effective-at", "", "when the move took effect (RFC3339); defaults to now")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the move")
	return cmd
}

func activityCmd() *cobra.Command {
	c := &cobra.Command{Use: "activity", Short: "Case activity log"}
	c.AddCommand(activityLogCmd())
	c.AddCommand(activityListCmd())
	return c
}

func activityLogCmd() *cobra.Command {
	var activityType, details, note string
	cmd := &cobra.Command{
		Use:   "log CASE_ID",
		Short: "Log a note, email or contact attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			switch {
			case note != "":
				activityType = domain.ActivityNoteAdded
				raw, _ = json.Marshal(domain.NoteDetails{Preview: note})
			case details != "":
				if !json.Valid([]byte(details)) {
					return fmt.Errorf("invalid --details: not JSON")
				}
				raw = json.RawMessage(details)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.LogActivity(ctx, args[0], activityType, actorID(), raw)
				if err != nil {
					return err
				}
				return printTable(a, activityHeader, activityRows([]domain.Activity{a}))
			})
		},
	}
	cmd.Flags().StringVar(&activityType, "type", domain.ActivityNoteAdded, "note_added, email_sent, email_received or contact_attempt")
	cmd.Flags().StringVar(&details, "details", "", "details JSON object")
	cmd.Flags().StringVar(&note, "note", "", "shortcut for --type note_added with this preview text")
	return cmd
}

var activityHeader = table.Row{"ID", "When", "Actor", "Activity"}

func activityRows(items []domain.Activity) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, a := range items {
		rows = append(rows, table.Row{a.ID, a.CreatedAt, a.Actor, a.Summary()})
	}
	return rows
}

func activityListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list CASE_ID",
		Short: "List activities, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetCase(ctx, args[0]); err != nil {
					return err
				}
				items, err := e.Repo.ListActivities(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printTable(items, activityHeader, activityRows(items))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max activities")
	return cmd
}

func taskCmd() *cobra.Command {
	c := &cobra.Command{Use: "task", Short: "Follow-up tasks"}
	c.AddCommand(taskAddCmd())
	c.AddCommand(taskListCmd())
	c.AddCommand(taskStatusCmd("done", "Complete a task", domain.TaskStatusCompleted))
	c.AddCommand(taskStatusCmd("cancel", "Cancel a task", domain.TaskStatusCancelled))
	return c
}

var taskHeader = table.Row{"ID", "Title", "Due", "Status"}

func taskRows(tasks []domain.Task) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		due := "-"
		if t.DueDate != "" {
			due = t.DueDate
		}
		rows = append(rows, table.Row{t.ID, t.Title, due, t.Status})
	}
	return rows
}

func taskAddCmd() *cobra.Command {
	var title, due string
	cmd := &cobra.Command{
		Use:   "add CASE_ID",
		Short: "Add a follow-up task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{CaseID: args[0], Title: title, DueDate: due, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printTable(t, taskHeader, taskRows([]domain.Task{t}))
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list CASE_ID",
		Short: "List tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetCase(ctx, args[0]); err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasks(ctx, args[0], !all)
				if err != nil {
					return err
				}
				return printTable(tasks, taskHeader, taskRows(tasks))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed and cancelled tasks")
	return cmd
}

func taskStatusCmd(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CASE_ID TASK_ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, args[0], args[1], status, actorID())
				if err != nil {
					return err
				}
				return printTable(t, taskHeader, taskRows([]domain.Task{t}))
			})
		},
	}
}
