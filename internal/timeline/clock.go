package timeline

import (
	"strings"
	"time"
)

// Epoch stands in for timestamps that cannot be parsed. It sorts before any
// real record, so a bad value degrades to "earliest" instead of failing.
var Epoch = time.Unix(0, 0).UTC()

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a stored timestamp. The boolean is false when the value
// is empty or malformed, in which case Epoch is returned.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Epoch, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return Epoch, false
}

// parser counts malformed values seen during one assembly.
type parser struct {
	malformed int
}

func (p *parser) parse(s string) time.Time {
	t, ok := ParseTime(s)
	if !ok {
		p.malformed++
	}
	return t
}
