package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/logger"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

// ErrConflict marks a write that contradicts current state.
var ErrConflict = errors.New("conflict")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *logger.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{Repo: r},
		Config: cfg,
		Now:    time.Now,
		Log:    logger.Nop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Clock returns the engine's current time.
func (e Engine) Clock() time.Time {
	return e.now()
}

func (e Engine) stamp() string {
	return domain.Stamp(e.now())
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// SyncStages writes the configured pipeline into the stage table.
func (e Engine) SyncStages(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	return e.Repo.UpsertStages(ctx, nil, e.Config.Pipeline.Stages)
}

// Directory returns the stage directory, including inactive stages still
// referenced by history.
func (e Engine) Directory(ctx context.Context) (*timeline.Directory, error) {
	stages, err := e.stages(ctx)
	if err != nil {
		return nil, err
	}
	return timeline.NewDirectory(stages), nil
}

func (e Engine) stages(ctx context.Context) ([]domain.Stage, error) {
	stages, err := e.Repo.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 && e.Config != nil {
		stages = e.Config.Pipeline.Stages
	}
	return stages, nil
}

func (e Engine) resolveStage(dir *timeline.Directory, ref string) (domain.Stage, error) {
	stage, ok := dir.Resolve(ref)
	if !ok {
		return domain.Stage{}, fmt.Errorf("invalid stage %q", ref)
	}
	if !stage.IsActive {
		return domain.Stage{}, fmt.Errorf("invalid stage %q: stage is inactive", ref)
	}
	return stage, nil
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	ID       string
	Name     string
	StageRef string
	ActorID  string
}

// CreateCase opens a case in StageRef, or the first active stage. The
// initial move is recorded as a transition with no origin.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Case{}, errors.New("name is required")
	}
	if opts.ActorID == "" {
		return domain.Case{}, errors.New("actor_id required")
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return domain.Case{}, err
	}
	var stage domain.Stage
	if opts.StageRef != "" {
		if stage, err = e.resolveStage(dir, opts.StageRef); err != nil {
			return domain.Case{}, err
		}
	} else {
		var ok bool
		if stage, ok = dir.First(); !ok {
			return domain.Case{}, errors.New("pipeline has no active stage")
		}
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"|"+opts.ActorID+"|"+now)).String()
	}
	c := domain.Case{ID: id, Name: name, CurrentStageID: stage.ID, CreatedAt: now, UpdatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetCaseTx(ctx, tx, id); err == nil {
		return domain.Case{}, fmt.Errorf("%w: case %s already exists", ErrConflict, id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Case{}, err
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	initial := domain.StageTransition{
		ID:              transitionID(id, stage.ID, now, 0),
		CaseID:          id,
		ToStageID:       stage.ID,
		ToLabelSnapshot: stage.Label,
		ChangedBy:       opts.ActorID,
		ChangedAt:       now,
		EffectiveAt:     now,
		RecordedAt:      now,
	}
	if _, err := e.Repo.InsertTransition(ctx, tx, initial); err != nil {
		return domain.Case{}, fmt.Errorf("insert transition: %w", err)
	}
	if _, err := e.events().Append(ctx, tx, id, domain.ActivityCaseCreated, opts.ActorID, map[string]any{"name": name, "stage_id": stage.ID}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	e.Log.Info("case created", "case_id", id, "stage_id", stage.ID, "actor_id", opts.ActorID)
	return c, nil
}

// StageChangeOptions are parameters for moving a case.
type StageChangeOptions struct {
	CaseID      string
	StageRef    string
	EffectiveAt string
	Reason      string
	ActorID     string
}

// ChangeStage moves a case. An empty EffectiveAt means now; an earlier one
// back-enters the move at its place in the history. The case's current stage
// is always the target of the latest effective move, so a backdated move
// that precedes a later one does not change it.
func (e Engine) ChangeStage(ctx context.Context, opts StageChangeOptions) (domain.StageTransition, error) {
	if opts.CaseID == "" {
		return domain.StageTransition{}, errors.New("case_id required")
	}
	if opts.ActorID == "" {
		return domain.StageTransition{}, errors.New("actor_id required")
	}
	dir, err := e.Directory(ctx)
	if err != nil {
		return domain.StageTransition{}, err
	}
	stage, err := e.resolveStage(dir, opts.StageRef)
	if err != nil {
		return domain.StageTransition{}, err
	}
	nowT := e.now().UTC()
	now := domain.Stamp(nowT)
	effective := now
	if strings.TrimSpace(opts.EffectiveAt) != "" {
		at, ok := timeline.ParseTime(opts.EffectiveAt)
		if !ok {
			return domain.StageTransition{}, fmt.Errorf("invalid effective_at %q", opts.EffectiveAt)
		}
		if at.After(nowT) {
			return domain.StageTransition{}, fmt.Errorf("invalid effective_at %q: in the future", opts.EffectiveAt)
		}
		effective = domain.Stamp(at)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageTransition{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.StageTransition{}, err
	}
	history, err := e.Repo.ListHistoryTx(ctx, tx, c.ID)
	if err != nil {
		return domain.StageTransition{}, err
	}
	var seq int64
	for _, h := range history {
		seq = max(seq, h.Seq)
	}
	t := domain.StageTransition{
		ID:              transitionID(c.ID, stage.ID, now, int64(len(history))),
		CaseID:          c.ID,
		ToStageID:       stage.ID,
		ToLabelSnapshot: stage.Label,
		ChangedBy:       opts.ActorID,
		Reason:          strings.TrimSpace(opts.Reason),
		ChangedAt:       now,
		EffectiveAt:     effective,
		RecordedAt:      now,
		Seq:             seq + 1,
	}

	// The move's predecessor is whatever stage was in effect at effective_at.
	sorted := timeline.SortHistory(append(history, t))
	idx := slices.IndexFunc(sorted, func(h domain.StageTransition) bool { return h.ID == t.ID })
	var from string
	switch {
	case idx > 0:
		from = sorted[idx-1].ToStageID
	case len(history) == 0:
		from = c.CurrentStageID
	default:
		return domain.StageTransition{}, fmt.Errorf("invalid effective_at %q: before the case was created", opts.EffectiveAt)
	}
	if from == stage.ID {
		return domain.StageTransition{}, fmt.Errorf("%w: case already in stage %s at %s", ErrConflict, stage.ID, effective)
	}
	t.FromStageID = &from
	t.FromLabelSnapshot = from
	if s, ok := dir.Lookup(from); ok {
		t.FromLabelSnapshot = s.Label
	}
	if idx+1 < len(sorted) && sorted[idx+1].ToStageID == stage.ID {
		return domain.StageTransition{}, fmt.Errorf("%w: case enters stage %s again at %s", ErrConflict, stage.ID, sorted[idx+1].EffectiveAt)
	}

	if t.Seq, err = e.Repo.InsertTransition(ctx, tx, t); err != nil {
		return domain.StageTransition{}, fmt.Errorf("insert transition: %w", err)
	}
	current, _ := timeline.LatestStage(sorted)
	if err := e.Repo.UpdateCaseStage(ctx, tx, c.ID, current, now); err != nil {
		return domain.StageTransition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageTransition{}, err
	}
	e.Log.Info("stage changed", "case_id", c.ID, "from", from, "to", stage.ID, "current", current, "effective_at", effective, "actor_id", opts.ActorID)
	return t, nil
}

func transitionID(caseID, stageID, at string, salt int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%s|%d", caseID, stageID, at, salt))).String()
}

// LogActivity appends a free-standing activity to a case. Task activities
// are written by the task operations and are rejected here.
func (e Engine) LogActivity(ctx context.Context, caseID, activityType, actorID string, details json.RawMessage) (domain.Activity, error) {
	if actorID == "" {
		return domain.Activity{}, errors.New("actor_id required")
	}
	switch activityType {
	case domain.ActivityNoteAdded, domain.ActivityEmailSent, domain.ActivityEmailReceived, domain.ActivityContactAttempt:
	default:
		return domain.Activity{}, fmt.Errorf("invalid activity_type %q", activityType)
	}
	if len(details) > 0 {
		probe := domain.Activity{ActivityType: activityType, Details: details}
		if _, err := probe.DecodeDetails(); err != nil {
			return domain.Activity{}, fmt.Errorf("invalid details: %w", err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetCaseTx(ctx, tx, caseID); err != nil {
		return domain.Activity{}, err
	}
	a, err := e.events().Append(ctx, tx, caseID, activityType, actorID, details)
	if err != nil {
		return domain.Activity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Activity{}, err
	}
	e.Log.Debug("activity logged", "case_id", caseID, "activity_id", a.ID, "type", activityType)
	return a, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID      string
	CaseID  string
	Title   string
	DueDate string
	ActorID string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ActorID == "" {
		return domain.Task{}, errors.New("actor_id required")
	}
	due := ""
	if strings.TrimSpace(opts.DueDate) != "" {
		at, ok := timeline.ParseTime(opts.DueDate)
		if !ok {
			return domain.Task{}, fmt.Errorf("invalid due_date %q", opts.DueDate)
		}
		due = at.UTC().Format(time.RFC3339)
	}
	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.CaseID+"|"+title+"|"+now)).String()
	}
	t := domain.Task{ID: id, CaseID: opts.CaseID, Title: title, DueDate: due, Status: domain.TaskStatusPending, CreatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if _, err := e.events().Append(ctx, tx, t.CaseID, domain.ActivityTaskCreated, opts.ActorID, domain.TaskDetails{TaskID: t.ID, Title: t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch newStatus {
	case domain.TaskStatusCompleted, domain.TaskStatusCancelled:
	default:
		return fmt.Errorf("invalid task status %q", newStatus)
	}
	if oldStatus != domain.TaskStatusPending {
		return fmt.Errorf("%w: task already %s", ErrConflict, oldStatus)
	}
	return nil
}

// SetTaskStatus completes or cancels a pending task.
func (e Engine) SetTaskStatus(ctx context.Context, caseID, taskID, status, actorID string) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, errors.New("actor_id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, caseID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t.Status = status
	t.CompletedAt = &now
	if err := e.Repo.UpdateTaskStatus(ctx, tx, caseID, taskID, status, t.CompletedAt); err != nil {
		return domain.Task{}, err
	}
	activity := domain.ActivityTaskCompleted
	if status == domain.TaskStatusCancelled {
		activity = domain.ActivityTaskCancelled
	}
	if _, err := e.events().Append(ctx, tx, caseID, activity, actorID, domain.TaskDetails{TaskID: t.ID, Title: t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Timeline loads a case and assembles its stage-partitioned timeline.
func (e Engine) Timeline(ctx context.Context, caseID string) (timeline.Timeline, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return timeline.Timeline{}, err
	}
	in := timeline.Input{CurrentStageID: c.CurrentStageID, CaseCreatedAt: c.CreatedAt, Now: e.now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Stages, err = e.stages(gctx)
		return err
	})
	g.Go(func() (err error) {
		in.History, err = e.Repo.ListHistory(gctx, caseID)
		return err
	})
	g.Go(func() (err error) {
		in.Activities, err = e.Repo.ListActivities(gctx, caseID, 0)
		return err
	})
	g.Go(func() (err error) {
		in.Tasks, err = e.Repo.ListTasks(gctx, caseID, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return timeline.Timeline{}, fmt.Errorf("load timeline: %w", err)
	}
	tl := timeline.NewAssembler(e.Config.BackdateTolerance()).Assemble(in)
	d := tl.Diagnostics
	if len(d.DroppedActivityIDs) > 0 || len(d.UnknownStageIDs) > 0 || d.MalformedTimestamps > 0 {
		e.Log.Warn("timeline records skipped",
			"case_id", caseID,
			"dropped_activities", len(d.DroppedActivityIDs),
			"unknown_stages", d.UnknownStageIDs,
			"malformed_timestamps", d.MalformedTimestamps)
	}
	return tl, nil
}
