package params

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/funnelscope/server/internal/agent/model"
)

var (
	stepIndexRe = regexp.MustCompile(`(?i)\bstep\s+(\d+)\b`)
	rangeRe     = regexp.MustCompile(`(?i)\bfrom\s+(.+?)\s+(?:to|until|through)\s+(.+)$`)
)

// FillPending interprets the new message as filling gaps in the pending tool
// call rather than starting a new request. Only the fields listed as missing
// are considered, and only unambiguous spellings are accepted; anything the
// heuristics cannot place is left for the classifier to extract.
// Returns the updated parameter map and whether every gap was filled.
func FillPending(pending *model.PendingAction, message string) (map[string]any, bool) {
	filled := Merge(pending.Params, nil)
	message = strings.TrimSpace(message)
	if message == "" {
		return filled, len(pending.Missing) == 0
	}

	fillDates(filled, missingDateFields(filled, pending.Missing), message)

	remaining := 0
	for _, field := range pending.Missing {
		switch name := fieldName(field); name {
		case FieldStartDate, FieldEndDate:
			if _, ok := filled[name]; ok {
				continue
			}
		case FieldFunnelSteps:
			if steps, errMsg := normalizeSteps(message); errMsg == "" {
				filled[FieldFunnelSteps] = steps
				continue
			}
		case FieldStepIndex:
			if idx, ok := extractStepIndex(message); ok {
				filled[FieldStepIndex] = idx
				continue
			}
		}
		remaining++
	}

	return filled, remaining == 0
}

// fieldName strips the parenthesised reason from a missing-field entry.
func fieldName(field string) string {
	if i := strings.IndexByte(field, ' '); i > 0 {
		return field[:i]
	}
	return field
}

// missingDateFields lists date gaps still open: named as missing and not yet
// collected on a previous turn.
func missingDateFields(filled map[string]any, missing []string) []string {
	var fields []string
	for _, field := range missing {
		switch name := fieldName(field); name {
		case FieldStartDate, FieldEndDate:
			if _, ok := filled[name]; !ok {
				fields = append(fields, name)
			}
		}
	}
	return fields
}

// fillDates handles "from X to Y" phrases and bare date replies. A range
// phrase names both bounds explicitly and fills both. A bare date names only
// one bound: it fills the first missing date field and leaves any other gap
// open so the agent asks again rather than inventing a one-day range.
func fillDates(filled map[string]any, missing []string, message string) {
	if len(missing) == 0 {
		return
	}
	if m := rangeRe.FindStringSubmatch(message); m != nil {
		start, okS := ParseDate(m[1])
		end, okE := ParseDate(m[2])
		if okS && okE {
			filled[FieldStartDate] = start.Format("2006-01-02")
			filled[FieldEndDate] = end.Format("2006-01-02")
			return
		}
	}
	if t, ok := ParseDate(message); ok {
		filled[missing[0]] = t.Format("2006-01-02")
	}
}

func extractStepIndex(message string) (int, bool) {
	if n, err := strconv.Atoi(message); err == nil {
		return n, true
	}
	if m := stepIndexRe.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}
