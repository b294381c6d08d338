package timeline

import (
	"sort"
	"time"

	"caseline/internal/domain"
)

// Input is everything one timeline is computed from. All collections are
// fully materialized; the assembler never fetches.
type Input struct {
	Stages         []domain.Stage
	CurrentStageID string
	CaseCreatedAt  string
	History        []domain.StageTransition
	Activities     []domain.Activity
	Tasks          []domain.Task
	Now            time.Time
}

// TransitionEntry is a stage move as shown in its bucket.
type TransitionEntry struct {
	domain.StageTransition
	Label       string `json:"label"`
	IsBackdated bool   `json:"is_backdated"`
}

// Bucket groups everything that happened while a case sat in one stage.
type Bucket struct {
	Stage           domain.Stage      `json:"stage"`
	Transitions     []TransitionEntry `json:"transitions"`
	Activities      []domain.Activity `json:"activities"`
	IsCurrent       bool              `json:"is_current"`
	IsBackdated     bool              `json:"is_backdated"`
	DefaultExpanded bool              `json:"default_expanded"`
	Expanded        bool              `json:"expanded"`
}

// Diagnostics counts what the assembler left out. Dropped records are never
// shown in a bucket.
type Diagnostics struct {
	DroppedActivityIDs  []int64  `json:"dropped_activity_ids,omitempty"`
	UnknownStageIDs     []string `json:"unknown_stage_ids,omitempty"`
	MalformedTimestamps int      `json:"malformed_timestamps"`
}

// Timeline is a case's activity partitioned by stage.
type Timeline struct {
	Buckets     []Bucket    `json:"buckets"`
	Tasks       TaskBuckets `json:"tasks"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Bucket returns the bucket for stageID, if rendered.
func (t Timeline) Bucket(stageID string) (Bucket, bool) {
	for _, b := range t.Buckets {
		if b.Stage.ID == stageID {
			return b, true
		}
	}
	return Bucket{}, false
}

// Assembler builds timelines with a configured backdating detector.
type Assembler struct {
	Detector Detector
}

// NewAssembler returns an Assembler using tolerance for backdating.
func NewAssembler(tolerance time.Duration) Assembler {
	return Assembler{Detector: Detector{Tolerance: tolerance}}
}

// Assemble runs with the default backdating tolerance.
func Assemble(in Input) Timeline {
	return NewAssembler(DefaultBackdateTolerance).Assemble(in)
}

type datedActivity struct {
	domain.Activity
	at time.Time
}

// Assemble builds the stage-partitioned view. It is deterministic in its
// inputs and never fails: bad records are dropped or sorted first.
func (a Assembler) Assemble(in Input) Timeline {
	p := &parser{}
	dir := NewDirectory(in.Stages)
	sorted := sortHistory(in.History, p)
	intervals := buildIntervals(sorted, in.CurrentStageID)
	if len(intervals) == 0 && in.CurrentStageID != "" {
		// No history yet: the case has only ever been in its current stage.
		var start time.Time
		if in.CaseCreatedAt != "" {
			start = p.parse(in.CaseCreatedAt)
		}
		intervals = []Interval{{StageID: in.CurrentStageID, Start: start, Open: true}}
	}

	var diag Diagnostics
	unknown := map[string]bool{}
	index := map[string]int{}
	var buckets []*Bucket
	owner := make([]*Bucket, len(intervals))
	for i, iv := range intervals {
		stage, ok := dir.Lookup(iv.StageID)
		if !ok {
			if !unknown[iv.StageID] {
				unknown[iv.StageID] = true
				diag.UnknownStageIDs = append(diag.UnknownStageIDs, iv.StageID)
			}
			continue
		}
		pos, seen := index[stage.ID]
		if !seen {
			pos = len(buckets)
			index[stage.ID] = pos
			buckets = append(buckets, &Bucket{Stage: stage})
		}
		b := buckets[pos]
		owner[i] = b
		if iv.Open {
			b.IsCurrent = true
		}
		if iv.Transition != nil && iv.Transition.ToStageID == stage.ID {
			entry := TransitionEntry{
				StageTransition: *iv.Transition,
				Label:           TransitionLabel(*iv.Transition, dir),
				IsBackdated:     a.Detector.IsBackdated(*iv.Transition),
			}
			if entry.IsBackdated {
				b.IsBackdated = true
			}
			b.Transitions = append(b.Transitions, entry)
		}
	}

	dated := make(map[*Bucket][]datedActivity, len(buckets))
	for _, act := range in.Activities {
		at := p.parse(act.CreatedAt)
		i, ok := Classify(at, intervals)
		if !ok || owner[i] == nil {
			diag.DroppedActivityIDs = append(diag.DroppedActivityIDs, act.ID)
			continue
		}
		dated[owner[i]] = append(dated[owner[i]], datedActivity{Activity: act, at: at})
	}

	out := Timeline{
		Buckets: make([]Bucket, 0, len(buckets)),
		Tasks:   BucketTasks(in.Tasks, in.Now),
	}
	for _, b := range buckets {
		acts := dated[b]
		sort.SliceStable(acts, func(i, j int) bool {
			if !acts[i].at.Equal(acts[j].at) {
				return acts[i].at.Before(acts[j].at)
			}
			return acts[i].ID < acts[j].ID
		})
		b.Activities = make([]domain.Activity, 0, len(acts))
		for _, da := range acts {
			b.Activities = append(b.Activities, da.Activity)
		}
		if b.Transitions == nil {
			b.Transitions = []TransitionEntry{}
		}
		b.DefaultExpanded = b.IsCurrent || b.IsBackdated
		b.Expanded = b.DefaultExpanded
		out.Buckets = append(out.Buckets, *b)
	}
	sort.SliceStable(out.Buckets, func(i, j int) bool {
		return stageLess(out.Buckets[i].Stage, out.Buckets[j].Stage)
	})
	sort.Slice(diag.DroppedActivityIDs, func(i, j int) bool {
		return diag.DroppedActivityIDs[i] < diag.DroppedActivityIDs[j]
	})
	sort.Strings(diag.UnknownStageIDs)
	diag.MalformedTimestamps = p.malformed
	out.Diagnostics = diag
	return out
}

// TransitionLabel renders a transition for display. Moves into a terminal
// stage show where they came from ("New Unread -> Disqualified"); all other
// moves read "Entered <stage>". Empty snapshots fall back to the directory.
func TransitionLabel(t domain.StageTransition, dir *Directory) string {
	to := t.ToLabelSnapshot
	if to == "" {
		to = dir.label(t.ToStageID)
	}
	if stage, ok := dir.Lookup(t.ToStageID); ok && stage.IsTerminal() {
		from := t.FromLabelSnapshot
		if from == "" && t.FromStageID != nil {
			from = dir.label(*t.FromStageID)
		}
		if from != "" {
			return from + " -> " + to
		}
	}
	return "Entered " + to
}
