package timeline

import (
	"time"

	"caseline/internal/domain"
)

const DefaultBackdateTolerance = time.Second

// Detector flags transitions recorded after the time they take effect.
type Detector struct {
	Tolerance time.Duration
}

// IsBackdated reports whether t's effective time precedes its recorded time
// by more than the tolerance. Unparseable timestamps are never backdated.
func (d Detector) IsBackdated(t domain.StageTransition) bool {
	eff, ok := ParseTime(t.EffectiveAt)
	if !ok {
		return false
	}
	rec, ok := ParseTime(t.RecordedAt)
	if !ok {
		return false
	}
	return d.backdated(eff, rec)
}

func (d Detector) backdated(effective, recorded time.Time) bool {
	tol := d.Tolerance
	if tol < 0 {
		tol = 0
	}
	return recorded.Sub(effective) > tol
}
