// Package orchestrator drives one conversation turn end to end: load the
// session, run the turn graph, persist the updated session, and only then
// release the response. Persistence is all-or-nothing per turn; a response
// is never returned for a session state that failed to persist.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/funnelscope/server/internal/agent/graph"
	"github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/repo"
	errx "github.com/funnelscope/server/internal/core/error"
	"github.com/funnelscope/server/internal/observability"
	logx "github.com/funnelscope/server/pkg/logger"
)

const fallbackResponse = "Something went wrong while processing your request. Could you rephrase or try again?"

// TurnResult is what the transport layer renders to the caller.
type TurnResult struct {
	SessionID string
	Output    *model.TurnOutput
}

// Orchestrator serializes turns per session and owns the
// load-run-persist cycle around the graph.
type Orchestrator struct {
	store       repo.SessionStore
	runner      graph.Runner
	metrics     *observability.Metrics
	turnTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func New(store repo.SessionStore, runner graph.Runner, metrics *observability.Metrics, turnTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:       store,
		runner:      runner,
		metrics:     metrics,
		turnTimeout: turnTimeout,
		locks:       make(map[string]*sessionLock),
	}
}

// Turn processes one user message. An empty sessionID starts a new session.
// Concurrent turns for the same session are serialized; turns for different
// sessions run independently.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := o.acquire(sessionID)
	defer unlock()

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	started := time.Now()
	out, outcome, err := o.runTurn(ctx, sessionID, message)
	o.metrics.ObserveTurn(outcome, time.Since(started))
	if err != nil {
		return nil, err
	}
	return &TurnResult{SessionID: sessionID, Output: out}, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID, message string) (*model.TurnOutput, string, error) {
	sess, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return nil, "load_error", err
	}

	out, err := o.runner.Invoke(ctx, model.TurnInput{Session: sess, Message: message})
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Turn graph failed, degrading to clarification")
		sess, out = o.fallbackTurn(ctx, sessionID, message)
	}

	if err := o.store.Put(ctx, sess); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist session, discarding response")
		if errors.Is(err, errx.ErrSessionConflict) {
			return nil, "session_conflict", err
		}
		return nil, "persistence_error", err
	}
	return out, outcomeLabel(out), nil
}

// fallbackTurn rebuilds the turn on a fresh session copy so a half-mutated
// graph run never leaks into the store. The user still gets an answer, just
// a clarification instead of a crash.
func (o *Orchestrator) fallbackTurn(ctx context.Context, sessionID, message string) (*model.Session, *model.TurnOutput) {
	sess, err := o.loadSession(ctx, sessionID)
	if err != nil {
		sess = model.NewSession(sessionID)
	}
	sess.AppendTurn(model.RoleUser, message, nil)
	sess.AppendTurn(model.RoleAgent, fallbackResponse, nil)

	return sess, &model.TurnOutput{
		Response:   fallbackResponse,
		NeedsInput: true,
		Metadata: model.TurnMetadata{
			ActionTaken: model.ActionAskUser,
			FunnelID:    sess.FunnelID(),
		},
	}
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, errx.ErrSessionNotFound) {
		return model.NewSession(sessionID), nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Session returns the stored session state.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// Reset removes a session and all its cached results.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	unlock := o.acquire(sessionID)
	defer unlock()
	return o.store.Delete(ctx, sessionID)
}

// acquire takes the per-session lock, creating it on first use and dropping
// it once no turn holds or waits on it.
func (o *Orchestrator) acquire(sessionID string) func() {
	o.mu.Lock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		o.locks[sessionID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, sessionID)
		}
		o.mu.Unlock()
	}
}

func outcomeLabel(out *model.TurnOutput) string {
	switch {
	case out.Metadata.ToolError != "":
		return "tool_error"
	case out.NeedsInput:
		return "needs_input"
	default:
		return "answered"
	}
}
