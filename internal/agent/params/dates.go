package params

import (
	"strings"
	"time"
)

// dateLayouts is the explicit allowlist of accepted date spellings. Anything
// outside it fails loudly instead of being guessed at, so an ambiguous
// phrase surfaces as a missing/invalid parameter rather than a wrong range.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseDate parses a date value from classifier output or a raw user
// message. JSON decoding hands us strings; other types are rejected.
func ParseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
