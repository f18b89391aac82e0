package nodes

import (
	"github.com/cloudwego/eino/schema"

	"github.com/funnelscope/server/internal/agent/model"
)

// RoutingToolInfos declares the three routing functions the classifier may
// call. These are decision-vocabulary declarations only: the model never
// executes them, the graph does, and every argument is re-validated.
func RoutingToolInfos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: model.ToolAnalyzeFunnel,
			Desc: "Run a new funnel analysis with the specified date range, ordered funnel steps, and optional user segment.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"start_date": {
					Type:     "string",
					Desc:     "Start date in ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SSZ)",
					Required: true,
				},
				"end_date": {
					Type:     "string",
					Desc:     "End date in ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SSZ)",
					Required: true,
				},
				"funnel_steps": {
					Type:     "array",
					Desc:     "Event names in funnel order (minimum 2 steps)",
					ElemInfo: &schema.ParameterInfo{Type: "string"},
					Required: true,
				},
				"user_segment": {
					Type: "string",
					Desc: "Optional user segment filter (e.g. 'mobile_users', 'premium_tier')",
				},
			}),
		},
		{
			Name: model.ToolAnalyzeCohort,
			Desc: "Deep-dive into a specific funnel step to compare converted vs dropped user cohorts. Requires a prior funnel analysis in this conversation.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"step_index": {
					Type:     "integer",
					Desc:     "0-based index of the funnel step to analyze in detail",
					Required: true,
				},
				"funnel_id": {
					Type: "string",
					Desc: "Funnel ID from a previous funnel analysis (defaults to the most recent one)",
				},
			}),
		},
		{
			Name: model.ToolAnswerMemory,
			Desc: "Answer the user's question using existing funnel or cohort analysis results without making new API calls.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"answer": {
					Type:     "string",
					Desc:     "The answer to the user's question based on existing data",
					Required: true,
				},
				"reasoning": {
					Type: "string",
					Desc: "Why existing data is sufficient to answer this question",
				},
			}),
		},
	}
}
