// Package report turns tool results and cached context into user-facing
// text. It only formats values the orchestrator already holds: tool-result
// paths restate the service response, and answer-from-context paths restate
// cached numbers without recomputing anything.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/funnelscope/server/internal/agent/model"
)

// Funnel renders a funnel analysis result as a structured narrative:
// overall conversion, per-step figures, and the largest drop-off highlight.
func Funnel(r *model.FunnelResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Funnel analysis complete (funnel_id: %s).\n", r.FunnelID)
	if r.DateRange.Start != "" || r.DateRange.End != "" {
		fmt.Fprintf(&b, "Period: %s to %s.\n", r.DateRange.Start, r.DateRange.End)
	}
	fmt.Fprintf(&b, "Overall conversion: %.1f%% of %d users.\n\n", r.OverallConversion, r.TotalUsers)

	b.WriteString("Steps:\n")
	for _, step := range r.Steps {
		fmt.Fprintf(&b, "  %d. %s: %d users (%.1f%% conversion", step.StepIndex+1, step.Name, step.Users, step.ConversionRate)
		if step.DropOff != nil {
			fmt.Fprintf(&b, ", %d dropped", *step.DropOff)
		}
		b.WriteString(")\n")
	}

	if worst := largestDropOff(r.Steps); worst != nil {
		fmt.Fprintf(&b, "\nLargest drop-off: %d users lost at %q (step %d).",
			*worst.DropOff, worst.Name, worst.StepIndex)
		fmt.Fprintf(&b, " Ask for a cohort analysis of step %d to see who dropped and why.", worst.StepIndex)
	}

	return b.String()
}

func largestDropOff(steps []model.FunnelStep) *model.FunnelStep {
	var worst *model.FunnelStep
	for i := range steps {
		s := &steps[i]
		if s.DropOff == nil {
			continue
		}
		if worst == nil || *s.DropOff > *worst.DropOff {
			worst = s
		}
	}
	return worst
}

// Cohort renders a cohort comparison for one funnel step.
func Cohort(r *model.CohortResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cohort analysis for %q (step %d).\n\n", r.StepName, r.StepIndex)
	fmt.Fprintf(&b, "Converted users: %d\n%s\n", r.Converted.Count, formatCharacteristics(r.Converted.Characteristics))
	fmt.Fprintf(&b, "Dropped users: %d\n%s\n", r.Dropped.Count, formatCharacteristics(r.Dropped.Characteristics))

	if len(r.Insights.KeyDifferences) > 0 {
		b.WriteString("Key differences:\n")
		for _, d := range r.Insights.KeyDifferences {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatCharacteristics(ch map[string]any) string {
	if len(ch) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ch))
	for k := range ch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "  - %s: %s\n", k, formatValue(ch[k]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(v any) string {
	switch vv := v.(type) {
	case []any:
		parts := make([]string, 0, len(vv))
		for _, e := range vv {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, vv[k]))
		}
		return strings.Join(parts, ", ")
	case float64:
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%.1f", vv)
	default:
		return fmt.Sprint(v)
	}
}

// AnswerFromContext produces the answer-from-memory response. The
// classifier's answer, when present, already restates cached values; with
// no answer but cached context available, the cached headline numbers are
// restated verbatim. No external call and no recomputation happens here.
func AnswerFromContext(answer string, sess *model.Session) string {
	if strings.TrimSpace(answer) != "" {
		return strings.TrimSpace(answer)
	}
	if sess.Funnel != nil {
		return fmt.Sprintf("From the last analysis (funnel_id: %s): overall conversion %.1f%% of %d users.",
			sess.Funnel.FunnelID, sess.Funnel.OverallConversion, sess.Funnel.TotalUsers)
	}
	return "I don't have enough information to answer that yet. Run a funnel analysis first."
}

// MissingParams formats the clarification question for exactly the missing
// fields.
func MissingParams(missing []string) string {
	return "I need more information: " + strings.Join(missing, ", ")
}

// ToolFailure describes an exhausted or rejected tool call to the user.
func ToolFailure(tool string, retryable bool) string {
	name := "funnel analysis"
	if tool == model.ToolAnalyzeCohort {
		name = "cohort analysis"
	}
	if retryable {
		return fmt.Sprintf("The %s service is not responding right now. Your request is saved; say \"try again\" to retry.", name)
	}
	return fmt.Sprintf("The %s service rejected the request. Please check the parameters and try a new request.", name)
}
