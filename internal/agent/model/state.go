package model

// TurnState stores per-invocation state for the turn graph.
// Concurrency model:
//   - Registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers
//     (WithStatePreHandler, WithStatePostHandler) or compose.ProcessState,
//     which serialize access; no extra locking is required.
//   - The Session pointer is owned by this turn: the orchestrator holds a
//     per-session lock for the duration of the invocation and persists the
//     mutated session only after the graph completes.
type TurnState struct {
	Session *Session
	Message string

	Decision     *RoutingDecision
	ShortCircuit bool // pending action fully resolved, skip the classifier

	// Set by the validation node for the dispatch nodes.
	FunnelParams *FunnelParams
	CohortParams *CohortParams
	RawParams    map[string]any // merged pending+decision params, pre-validation
	Missing      []string
	Clarify      string // clarification text overriding the generic ask-user wording
}

// TurnInput is the graph input for one inbound message. Session is loaded
// (or freshly created) by the orchestrator before invocation.
type TurnInput struct {
	Session *Session
	Message string
}

// TurnMetadata is surfaced to the conversational endpoint.
type TurnMetadata struct {
	ActionTaken Action `json:"action_taken"`
	FunnelID    string `json:"funnel_id,omitempty"`
	ToolError   string `json:"tool_error,omitempty"` // "retryable" | "fatal"
}

// TurnOutput is the graph output for one inbound message.
type TurnOutput struct {
	Response      string
	NeedsInput    bool
	MissingParams []string
	Metadata      TurnMetadata
}
