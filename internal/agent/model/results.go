package model

// FunnelStep is one step of a funnel analysis result.
type FunnelStep struct {
	StepIndex      int     `json:"step_index"`
	Name           string  `json:"name"`
	Users          int     `json:"users"`
	ConversionRate float64 `json:"conversion_rate"`
	DropOff        *int    `json:"drop_off,omitempty"`
}

// DateRange echoes the analysed period.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FunnelResult is the funnel analysis service response. The minted FunnelID
// becomes part of session context so later cohort requests can reference it.
type FunnelResult struct {
	FunnelID          string       `json:"funnel_id"`
	Steps             []FunnelStep `json:"steps"`
	OverallConversion float64      `json:"overall_conversion"`
	TotalUsers        int          `json:"total_users"`
	DateRange         DateRange    `json:"date_range"`
}

// CohortGroup describes one side (converted or dropped) of a cohort comparison.
type CohortGroup struct {
	Count           int            `json:"count"`
	Characteristics map[string]any `json:"characteristics"`
}

// CohortInsights carries the derived comparison findings.
type CohortInsights struct {
	KeyDifferences []string `json:"key_differences"`
}

// CohortResult is the cohort analysis service response for a single funnel step.
type CohortResult struct {
	StepName  string         `json:"step_name"`
	StepIndex int            `json:"step_index"`
	Converted CohortGroup    `json:"converted"`
	Dropped   CohortGroup    `json:"dropped"`
	Insights  CohortInsights `json:"insights"`
}
