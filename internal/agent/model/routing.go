package model

// Action is the per-turn routing outcome.
type Action string

const (
	ActionCallFunnel    Action = "call_funnel"
	ActionCallCohort    Action = "call_cohort"
	ActionAnswerContext Action = "answer_context"
	ActionAskUser       Action = "ask_user"
)

// RoutingDecision is the transient result of the decision engine for one
// turn. Params carries the raw extracted tool arguments before validation;
// nothing in a decision is trusted until the resolver re-validates it.
type RoutingDecision struct {
	Action    Action
	Params    map[string]any
	Answer    string
	Rationale string
}
