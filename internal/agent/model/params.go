package model

import "time"

// Routing tool names the decision classifier may call. They double as the
// Tool field of a PendingAction.
const (
	ToolAnalyzeFunnel = "analyze_funnel"
	ToolAnalyzeCohort = "analyze_cohort"
	ToolAnswerMemory  = "answer_from_memory"
)

// FunnelParams is a fully validated funnel analysis request.
type FunnelParams struct {
	StartDate   time.Time
	EndDate     time.Time
	FunnelSteps []string
	UserSegment string
}

// CohortParams is a fully validated cohort analysis request. FunnelID always
// matches the funnel result cached in the session.
type CohortParams struct {
	FunnelID  string
	StepIndex int
}
