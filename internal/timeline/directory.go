package timeline

import (
	"sort"
	"strings"

	"caseline/internal/domain"
)

// Directory indexes the pipeline's stages. The first stage seen for an id wins.
type Directory struct {
	byID    map[string]domain.Stage
	bySlug  map[string]string
	byLabel map[string]string
	ordered []domain.Stage
}

func NewDirectory(stages []domain.Stage) *Directory {
	d := &Directory{
		byID:    make(map[string]domain.Stage, len(stages)),
		bySlug:  make(map[string]string, len(stages)),
		byLabel: make(map[string]string, len(stages)),
	}
	for _, s := range stages {
		if s.ID == "" {
			continue
		}
		if _, dup := d.byID[s.ID]; dup {
			continue
		}
		d.byID[s.ID] = s
		if s.Slug != "" {
			if _, ok := d.bySlug[s.Slug]; !ok {
				d.bySlug[s.Slug] = s.ID
			}
		}
		if key := strings.ToLower(strings.TrimSpace(s.Label)); key != "" {
			if _, ok := d.byLabel[key]; !ok {
				d.byLabel[key] = s.ID
			}
		}
		d.ordered = append(d.ordered, s)
	}
	sort.SliceStable(d.ordered, func(i, j int) bool {
		return stageLess(d.ordered[i], d.ordered[j])
	})
	return d
}

func stageLess(a, b domain.Stage) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

func (d *Directory) Lookup(id string) (domain.Stage, bool) {
	s, ok := d.byID[id]
	return s, ok
}

func (d *Directory) BySlug(slug string) (domain.Stage, bool) {
	id, ok := d.bySlug[slug]
	if !ok {
		return domain.Stage{}, false
	}
	return d.byID[id], true
}

// ByLabel matches case-insensitively.
func (d *Directory) ByLabel(label string) (domain.Stage, bool) {
	id, ok := d.byLabel[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return domain.Stage{}, false
	}
	return d.byID[id], true
}

// Resolve finds a stage by id, then slug, then label.
func (d *Directory) Resolve(ref string) (domain.Stage, bool) {
	if s, ok := d.Lookup(ref); ok {
		return s, true
	}
	if s, ok := d.BySlug(ref); ok {
		return s, true
	}
	return d.ByLabel(ref)
}

// Stages returns all stages in display order.
func (d *Directory) Stages() []domain.Stage {
	out := make([]domain.Stage, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// OfType returns stages of the given type in display order.
func (d *Directory) OfType(t domain.StageType) []domain.Stage {
	var out []domain.Stage
	for _, s := range d.ordered {
		if s.StageType == t {
			out = append(out, s)
		}
	}
	return out
}

// First returns the lowest-ordered active stage.
func (d *Directory) First() (domain.Stage, bool) {
	for _, s := range d.ordered {
		if s.IsActive {
			return s, true
		}
	}
	return domain.Stage{}, false
}

// Len returns the number of stages.
func (d *Directory) Len() int { return len(d.ordered) }

func (d *Directory) label(id string) string {
	if s, ok := d.byID[id]; ok && s.Label != "" {
		return s.Label
	}
	return id
}
