package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/funnelscope/server/internal/agent/model"
)

func funnelFixture() *model.FunnelResult {
	drop1, drop2 := 300, 550
	return &model.FunnelResult{
		FunnelID: "fnl_abc123",
		Steps: []model.FunnelStep{
			{StepIndex: 0, Name: "signup", Users: 1000, ConversionRate: 100},
			{StepIndex: 1, Name: "verify_email", Users: 700, ConversionRate: 70, DropOff: &drop1},
			{StepIndex: 2, Name: "purchase", Users: 150, ConversionRate: 15, DropOff: &drop2},
		},
		OverallConversion: 15,
		TotalUsers:        1000,
		DateRange:         model.DateRange{Start: "2026-01-01", End: "2026-01-31"},
	}
}

func TestFunnelReport(t *testing.T) {
	text := Funnel(funnelFixture())

	assert.Contains(t, text, "fnl_abc123")
	assert.Contains(t, text, "Overall conversion: 15.0% of 1000 users.")
	assert.Contains(t, text, "2. verify_email: 700 users (70.0% conversion, 300 dropped)")
	assert.Contains(t, text, `Largest drop-off: 550 users lost at "purchase" (step 2)`)
	assert.Contains(t, text, "cohort analysis of step 2")
}

func TestCohortReport(t *testing.T) {
	text := Cohort(&model.CohortResult{
		StepName:  "purchase",
		StepIndex: 2,
		Converted: model.CohortGroup{
			Count:           150,
			Characteristics: map[string]any{"top_platform": "ios", "avg_session_minutes": 8.5},
		},
		Dropped: model.CohortGroup{
			Count:           550,
			Characteristics: map[string]any{"top_platform": "android"},
		},
		Insights: model.CohortInsights{
			KeyDifferences: []string{"Converted users had longer sessions"},
		},
	})

	assert.Contains(t, text, `Cohort analysis for "purchase" (step 2)`)
	assert.Contains(t, text, "Converted users: 150")
	assert.Contains(t, text, "Dropped users: 550")
	assert.Contains(t, text, "avg_session_minutes: 8.5")
	assert.Contains(t, text, "- Converted users had longer sessions")

	// characteristics render in stable sorted order
	assert.Less(t,
		strings.Index(text, "avg_session_minutes"),
		strings.Index(text, "top_platform"))
}

func TestAnswerFromContext(t *testing.T) {
	sess := model.NewSession("s1")

	assert.Contains(t, AnswerFromContext("", sess), "Run a funnel analysis first")

	sess.Funnel = funnelFixture()
	assert.Equal(t,
		"From the last analysis (funnel_id: fnl_abc123): overall conversion 15.0% of 1000 users.",
		AnswerFromContext("", sess))

	assert.Equal(t, "The drop was at purchase.", AnswerFromContext("  The drop was at purchase.  ", sess))
}

func TestMissingParams(t *testing.T) {
	assert.Equal(t,
		"I need more information: end_date, funnel_steps",
		MissingParams([]string{"end_date", "funnel_steps"}))
}

func TestToolFailure(t *testing.T) {
	retryable := ToolFailure(model.ToolAnalyzeFunnel, true)
	assert.Contains(t, retryable, "funnel analysis service is not responding")
	assert.Contains(t, retryable, `say "try again"`)

	fatal := ToolFailure(model.ToolAnalyzeCohort, false)
	assert.Contains(t, fatal, "cohort analysis service rejected")
}
