package model

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleToolResult Role = "tool-result"
)

// Turn is one entry in a session's conversation log. Turns are immutable
// once appended and the sequence is append-only and chronological.
type Turn struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PendingAction records a tool call that is being prepared across turns:
// which tool, the parameters collected so far, and the required fields the
// user still has to supply. A pending action with no missing fields is a
// fully prepared call waiting to be dispatched (used to re-run a tool after
// a transient failure without re-collecting parameters).
type PendingAction struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Missing   []string       `json:"missing"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is the durable conversational state keyed by an opaque identifier.
// At most one PendingAction exists at a time. Mutated only by the turn
// orchestrator and written back through an atomic compare-and-set; Version
// is the CAS token maintained by the session store.
type Session struct {
	ID        string         `json:"id"`
	Turns     []Turn         `json:"turns"`
	Funnel    *FunnelResult  `json:"funnel,omitempty"`
	Cohort    *CohortResult  `json:"cohort,omitempty"`
	Pending   *PendingAction `json:"pending,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Version   int64          `json:"version"`
}

// NewSession returns an empty session. Version 0 marks a session that has
// never been persisted, which lets the store detect first-write races.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn adds a turn to the log with the current timestamp.
func (s *Session) AppendTurn(role Role, content string, payload json.RawMessage) {
	s.Turns = append(s.Turns, Turn{
		Role:      role,
		Content:   content,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// RecentTurns returns up to max of the latest turns, preserving order.
func (s *Session) RecentTurns(max int) []Turn {
	if max <= 0 || len(s.Turns) <= max {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-max:]
}

// FunnelID returns the cached funnel identifier, or "" when no funnel
// analysis has run in this session.
func (s *Session) FunnelID() string {
	if s.Funnel == nil {
		return ""
	}
	return s.Funnel.FunnelID
}
