package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/server/internal/agent/model"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2026-01-15", true},
		{"2026-01-15T10:30:00Z", true},
		{"Jan 15, 2026", true},
		{"15 January 2026", true},
		{"last week", false},
		{"01/15/2026", false}, // ambiguous slash format is rejected on purpose
		{"", false},
	}
	for _, tt := range tests {
		_, ok := ParseDate(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
	}

	got, ok := ParseDate("Jan 15, 2026")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestFillPendingBareDate(t *testing.T) {
	pending := &model.PendingAction{
		Tool: model.ToolAnalyzeFunnel,
		Params: map[string]any{
			"start_date":   "2026-01-01",
			"funnel_steps": []any{"signup", "purchase"},
		},
		Missing: []string{"end_date"},
	}

	filled, complete := FillPending(pending, "2026-01-31")

	require.True(t, complete)
	assert.Equal(t, "2026-01-31", filled["end_date"])
	assert.Equal(t, "2026-01-01", filled["start_date"])
}

func TestFillPendingDateRangePhrase(t *testing.T) {
	pending := &model.PendingAction{
		Tool:    model.ToolAnalyzeFunnel,
		Params:  map[string]any{"funnel_steps": []any{"signup", "purchase"}},
		Missing: []string{"start_date", "end_date"},
	}

	filled, complete := FillPending(pending, "from Jan 1 2026 to Jan 31 2026")

	require.True(t, complete)
	assert.Equal(t, "2026-01-01", filled["start_date"])
	assert.Equal(t, "2026-01-31", filled["end_date"])
}

func TestFillPendingBareDateFillsOnlyOneBound(t *testing.T) {
	pending := &model.PendingAction{
		Tool:    model.ToolAnalyzeFunnel,
		Params:  map[string]any{"funnel_steps": []any{"signup", "purchase"}},
		Missing: []string{"start_date", "end_date"},
	}

	filled, complete := FillPending(pending, "Jan 5 2026")

	assert.False(t, complete, "a single date must not resolve two missing bounds")
	assert.Equal(t, "2026-01-05", filled["start_date"])
	assert.NotContains(t, filled, "end_date")

	// the follow-up reply then completes the range
	pending.Params = filled
	filled, complete = FillPending(pending, "2026-01-31")

	require.True(t, complete)
	assert.Equal(t, "2026-01-05", filled["start_date"])
	assert.Equal(t, "2026-01-31", filled["end_date"])
}

func TestFillPendingSteps(t *testing.T) {
	pending := &model.PendingAction{
		Tool: model.ToolAnalyzeFunnel,
		Params: map[string]any{
			"start_date": "2026-01-01",
			"end_date":   "2026-01-31",
		},
		Missing: []string{"funnel_steps (need at least 2 steps)"},
	}

	filled, complete := FillPending(pending, "signup, verify_email, purchase")

	require.True(t, complete)
	assert.Equal(t, []string{"signup", "verify_email", "purchase"}, filled["funnel_steps"])
}

func TestFillPendingStepIndex(t *testing.T) {
	pending := &model.PendingAction{
		Tool:    model.ToolAnalyzeCohort,
		Params:  map[string]any{"funnel_id": "fnl_abc123"},
		Missing: []string{"step_index"},
	}

	filled, complete := FillPending(pending, "look at step 2 please")

	require.True(t, complete)
	assert.Equal(t, 2, filled["step_index"])
}

func TestFillPendingLeavesAmbiguityToClassifier(t *testing.T) {
	pending := &model.PendingAction{
		Tool:    model.ToolAnalyzeFunnel,
		Params:  map[string]any{},
		Missing: []string{"start_date", "end_date", "funnel_steps"},
	}

	_, complete := FillPending(pending, "hmm, what do you think?")

	assert.False(t, complete)
}

func TestFillPendingNoMissingIsAlreadyComplete(t *testing.T) {
	// a prepared-but-failed call has Missing nil: any message re-dispatches it
	pending := &model.PendingAction{
		Tool: model.ToolAnalyzeFunnel,
		Params: map[string]any{
			"start_date":   "2026-01-01",
			"end_date":     "2026-01-31",
			"funnel_steps": []any{"signup", "purchase"},
		},
	}

	filled, complete := FillPending(pending, "try again")

	require.True(t, complete)
	assert.Equal(t, "2026-01-01", filled["start_date"])
}
