package timeline

import (
	"sort"
	"time"

	"caseline/internal/domain"
)

// Interval is the span during which a case sat in one stage. Start is
// inclusive, End exclusive; the final interval is Open and has no End.
type Interval struct {
	StageID    string                  `json:"stage_id"`
	Start      time.Time               `json:"start"`
	End        time.Time               `json:"end"`
	Open       bool                    `json:"open"`
	Transition *domain.StageTransition `json:"-"`
}

// Contains reports whether t falls within the interval.
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Start) {
		return false
	}
	return iv.Open || t.Before(iv.End)
}

type parsedTransition struct {
	domain.StageTransition
	effective time.Time
	changed   time.Time
	recorded  time.Time
}

// sortHistory orders transitions by effective time, then changed time, then
// recorded time, then storage sequence, then id; full ties keep input order.
func sortHistory(history []domain.StageTransition, p *parser) []parsedTransition {
	out := make([]parsedTransition, 0, len(history))
	for _, t := range history {
		out = append(out, parsedTransition{
			StageTransition: t,
			effective:       p.parse(t.EffectiveAt),
			changed:         p.parse(t.ChangedAt),
			recorded:        p.parse(t.RecordedAt),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.effective.Equal(b.effective) {
			return a.effective.Before(b.effective)
		}
		if !a.changed.Equal(b.changed) {
			return a.changed.Before(b.changed)
		}
		if !a.recorded.Equal(b.recorded) {
			return a.recorded.Before(b.recorded)
		}
		if a.Seq > 0 && b.Seq > 0 && a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}

// SortHistory returns the transitions in the order the timeline applies them.
func SortHistory(history []domain.StageTransition) []domain.StageTransition {
	sorted := sortHistory(history, &parser{})
	out := make([]domain.StageTransition, len(sorted))
	for i := range sorted {
		out[i] = sorted[i].StageTransition
	}
	return out
}

// LatestStage returns the target stage of the last transition in timeline
// order, which is the stage a case is in now.
func LatestStage(history []domain.StageTransition) (string, bool) {
	if len(history) == 0 {
		return "", false
	}
	sorted := SortHistory(history)
	return sorted[len(sorted)-1].ToStageID, true
}

// BuildIntervals turns one case's stage history (any order) into contiguous
// intervals sorted by start. A non-empty currentStageID overrides the stage
// of the final, open interval. Empty history yields no intervals.
func BuildIntervals(history []domain.StageTransition, currentStageID string) []Interval {
	return buildIntervals(sortHistory(history, &parser{}), currentStageID)
}

func buildIntervals(sorted []parsedTransition, currentStageID string) []Interval {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]Interval, len(sorted))
	for i := range sorted {
		tr := sorted[i].StageTransition
		iv := Interval{
			StageID:    tr.ToStageID,
			Start:      sorted[i].effective,
			Transition: &tr,
		}
		if i+1 < len(sorted) {
			iv.End = sorted[i+1].effective
		} else {
			iv.Open = true
			if currentStageID != "" {
				iv.StageID = currentStageID
			}
		}
		out[i] = iv
	}
	return out
}
