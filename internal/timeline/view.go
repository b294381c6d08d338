package timeline

// View holds one rendered timeline plus the user's manual expand/collapse
// choices, keyed by stage id. Choices survive Refresh as long as the stage
// still has a bucket. A View is not safe for concurrent use.
type View struct {
	overrides map[string]bool
	current   Timeline
}

// NewView returns a View with no overrides.
func NewView() *View {
	return &View{overrides: map[string]bool{}}
}

// Refresh replaces the displayed timeline and returns it with expansion
// state applied. The argument is not modified.
func (v *View) Refresh(t Timeline) Timeline {
	if v.overrides == nil {
		v.overrides = map[string]bool{}
	}
	live := make(map[string]bool, len(t.Buckets))
	buckets := make([]Bucket, len(t.Buckets))
	copy(buckets, t.Buckets)
	for i := range buckets {
		id := buckets[i].Stage.ID
		live[id] = true
		if expanded, ok := v.overrides[id]; ok {
			buckets[i].Expanded = expanded
		} else {
			buckets[i].Expanded = buckets[i].DefaultExpanded
		}
	}
	for id := range v.overrides {
		if !live[id] {
			delete(v.overrides, id)
		}
	}
	t.Buckets = buckets
	v.current = t
	v.current.Buckets = make([]Bucket, len(buckets))
	copy(v.current.Buckets, buckets)
	return t
}

// Toggle flips the bucket for stageID and returns its new state. Unknown
// stages are ignored and report false.
func (v *View) Toggle(stageID string) bool {
	for i := range v.current.Buckets {
		if v.current.Buckets[i].Stage.ID != stageID {
			continue
		}
		next := !v.current.Buckets[i].Expanded
		v.Set(stageID, next)
		return next
	}
	return false
}

// Set pins the bucket for stageID to the given state.
func (v *View) Set(stageID string, expanded bool) {
	for i := range v.current.Buckets {
		if v.current.Buckets[i].Stage.ID == stageID {
			if v.overrides == nil {
				v.overrides = map[string]bool{}
			}
			v.overrides[stageID] = expanded
			v.current.Buckets[i].Expanded = expanded
			return
		}
	}
}

// Expanded reports whether stageID's bucket is currently shown expanded.
func (v *View) Expanded(stageID string) bool {
	b, ok := v.current.Bucket(stageID)
	return ok && b.Expanded
}

// Timeline returns the last refreshed timeline.
func (v *View) Timeline() Timeline {
	return v.current
}
