// Package params validates and completes tool parameters against the
// conversational context. Explicit values from the newest message override
// previously collected PendingAction values; nothing is ever invented.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/funnelscope/server/internal/agent/model"
)

// Canonical parameter field names, as reported back in missing_params.
const (
	FieldStartDate     = "start_date"
	FieldEndDate       = "end_date"
	FieldFunnelSteps   = "funnel_steps"
	FieldUserSegment   = "user_segment"
	FieldFunnelID      = "funnel_id"
	FieldStepIndex     = "step_index"
	FieldFunnelContext = "funnel context"
)

// Merge layers explicit new values over previously collected ones. The base
// map is not mutated.
func Merge(base, over map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}

// FunnelResolution is the outcome of validating funnel parameters.
// Supplied holds the cleaned values that did validate, so a PendingAction
// can capture them for the next turn.
type FunnelResolution struct {
	Params   model.FunnelParams
	Supplied map[string]any
	Missing  []string
}

// Complete reports whether every required field validated.
func (r *FunnelResolution) Complete() bool {
	return len(r.Missing) == 0
}

// ResolveFunnel validates raw funnel parameters: parseable start/end dates
// with end >= start, and at least two unique non-empty ordered steps.
// Invalid values are reported in Missing with the reason in parentheses.
func ResolveFunnel(raw map[string]any) *FunnelResolution {
	res := &FunnelResolution{Supplied: map[string]any{}}

	start, startOK := ParseDate(raw[FieldStartDate])
	if !startOK {
		if raw[FieldStartDate] == nil {
			res.Missing = append(res.Missing, FieldStartDate)
		} else {
			res.Missing = append(res.Missing, FieldStartDate+" (unrecognized date)")
		}
	} else {
		res.Params.StartDate = start
		res.Supplied[FieldStartDate] = start.Format("2006-01-02T15:04:05Z07:00")
	}

	end, endOK := ParseDate(raw[FieldEndDate])
	switch {
	case !endOK && raw[FieldEndDate] == nil:
		res.Missing = append(res.Missing, FieldEndDate)
	case !endOK:
		res.Missing = append(res.Missing, FieldEndDate+" (unrecognized date)")
	case startOK && end.Before(start):
		res.Missing = append(res.Missing, FieldEndDate+" (must not be before start_date)")
	default:
		res.Params.EndDate = end
		res.Supplied[FieldEndDate] = end.Format("2006-01-02T15:04:05Z07:00")
	}

	steps, stepsErr := normalizeSteps(raw[FieldFunnelSteps])
	if stepsErr != "" {
		res.Missing = append(res.Missing, stepsErr)
	} else {
		res.Params.FunnelSteps = steps
		res.Supplied[FieldFunnelSteps] = steps
	}

	if seg, ok := raw[FieldUserSegment].(string); ok && strings.TrimSpace(seg) != "" {
		res.Params.UserSegment = strings.TrimSpace(seg)
		res.Supplied[FieldUserSegment] = res.Params.UserSegment
	}

	return res
}

func normalizeSteps(v any) ([]string, string) {
	if v == nil {
		return nil, FieldFunnelSteps
	}

	var items []string
	switch vv := v.(type) {
	case []string:
		items = vv
	case []any:
		for _, e := range vv {
			items = append(items, fmt.Sprint(e))
		}
	case string:
		// a comma-separated list is accepted from pending-fill heuristics
		items = strings.Split(vv, ",")
	default:
		return nil, FieldFunnelSteps + " (must be an ordered list of step names)"
	}

	seen := make(map[string]bool, len(items))
	steps := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if seen[strings.ToLower(s)] {
			return nil, FieldFunnelSteps + " (step names must be unique)"
		}
		seen[strings.ToLower(s)] = true
		steps = append(steps, s)
	}
	if len(steps) < 2 {
		return nil, FieldFunnelSteps + " (need at least 2 steps)"
	}
	return steps, ""
}

// CohortResolution is the outcome of validating cohort parameters.
type CohortResolution struct {
	Params     model.CohortParams
	Supplied   map[string]any
	Missing    []string
	InvalidRef string // non-empty when the message names an unknown funnel_id
}

func (r *CohortResolution) Complete() bool {
	return len(r.Missing) == 0 && r.InvalidRef == ""
}

// ResolveCohort validates cohort parameters against the session's cached
// funnel result. A cohort call without prior funnel context is a missing
// "funnel context" parameter, not an attempted call; a funnel_id that does
// not match the cached analysis is an invalid reference, not merely missing.
func ResolveCohort(raw map[string]any, funnel *model.FunnelResult) *CohortResolution {
	res := &CohortResolution{Supplied: map[string]any{}}

	if funnel == nil {
		res.Missing = append(res.Missing, FieldFunnelContext+" (run a funnel analysis first)")
		return res
	}

	if id, ok := raw[FieldFunnelID].(string); ok && strings.TrimSpace(id) != "" {
		if strings.TrimSpace(id) != funnel.FunnelID {
			res.InvalidRef = strings.TrimSpace(id)
			return res
		}
	}
	res.Params.FunnelID = funnel.FunnelID
	res.Supplied[FieldFunnelID] = funnel.FunnelID

	idx, ok := parseStepIndex(raw[FieldStepIndex])
	switch {
	case !ok:
		res.Missing = append(res.Missing, FieldStepIndex)
	case idx < 0 || idx >= len(funnel.Steps):
		res.Missing = append(res.Missing,
			fmt.Sprintf("%s (must be between 0 and %d)", FieldStepIndex, len(funnel.Steps)-1))
	default:
		res.Params.StepIndex = idx
		res.Supplied[FieldStepIndex] = idx
	}

	return res
}

func parseStepIndex(v any) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		if vv != float64(int(vv)) {
			return 0, false
		}
		return int(vv), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(vv))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
