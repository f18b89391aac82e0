package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/funnelscope/server/internal/agent/graph/parsers"
	"github.com/funnelscope/server/internal/agent/graph/prompts"
	"github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/params"
	"github.com/funnelscope/server/internal/agent/report"
	errx "github.com/funnelscope/server/internal/core/error"
	"github.com/funnelscope/server/internal/observability"
	logx "github.com/funnelscope/server/pkg/logger"
)

// Graph node names.
const (
	NodeTurnSetup      = "turn_setup"
	NodeRouterPrompt   = "router_prompt"
	NodeRouterModel    = "router_model"
	NodeDecisionParser = "decision_parser"
	NodeShortCircuit   = "short_circuit"
	NodeValidate       = "validate"
	NodeFunnelTool     = "funnel_tool"
	NodeCohortTool     = "cohort_tool"
	NodeAnswerContext  = "answer_context"
	NodeAskUser        = "ask_user"
	NodeReport         = "report"
)

// ToolOutcome carries the result of a dispatch node to the report node.
// The result payload itself is already cached on the session.
type ToolOutcome struct {
	Tool string
	Err  error
}

// FunnelClient is the tool invocation layer seen by the graph.
type FunnelClient interface {
	AnalyzeFunnel(ctx context.Context, p model.FunnelParams) (*model.FunnelResult, error)
	AnalyzeCohort(ctx context.Context, p model.CohortParams) (*model.CohortResult, error)
}

func actionForTool(tool string) model.Action {
	if tool == model.ToolAnalyzeCohort {
		return model.ActionCallCohort
	}
	return model.ActionCallFunnel
}

func toolForAction(action model.Action) string {
	if action == model.ActionCallCohort {
		return model.ToolAnalyzeCohort
	}
	return model.ToolAnalyzeFunnel
}

// NewTurnSetupPreHandler seeds the turn state from the graph input.
func NewTurnSetupPreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		if in.Session == nil {
			return in, fmt.Errorf("turn input session is nil")
		}
		s.Session = in.Session
		s.Message = in.Message
		return in, nil
	}
}

// NewTurnSetupNode appends the user turn and, when a PendingAction exists,
// interprets the new message as filling its gaps. A fully resolved pending
// action short-circuits routing straight to validation; "cancel" drops it.
func NewTurnSetupNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (model.TurnInput, error) {
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			sess.AppendTurn(model.RoleUser, s.Message, nil)

			pending := sess.Pending
			if pending == nil {
				return nil
			}

			if strings.EqualFold(strings.TrimSpace(s.Message), "cancel") {
				logx.Debug().Str("session_id", sess.ID).Str("tool", pending.Tool).Msg("Pending action cancelled by user")
				s.Decision = &model.RoutingDecision{Action: model.ActionAskUser}
				s.Clarify = fmt.Sprintf("Okay, I've dropped the pending %s request. What would you like to do next?", pending.Tool)
				s.ShortCircuit = true
				sess.Pending = nil
				return nil
			}

			merged, complete := params.FillPending(pending, s.Message)
			pending.Params = merged
			if complete {
				logx.Debug().
					Str("session_id", sess.ID).
					Str("tool", pending.Tool).
					Msg("Pending action fully resolved, short-circuiting router")
				s.Decision = &model.RoutingDecision{
					Action: actionForTool(pending.Tool),
					Params: merged,
				}
				s.ShortCircuit = true
			}
			return nil
		})
		return in, err
	})
}

// NewShortCircuitCondition routes past the classifier when the turn setup
// already produced a decision.
func NewShortCircuitCondition() func(context.Context, model.TurnInput) (string, error) {
	return func(ctx context.Context, _ model.TurnInput) (string, error) {
		var short bool
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			short = s.ShortCircuit
			return nil
		})
		if err != nil {
			return "", err
		}
		if short {
			return NodeShortCircuit, nil
		}
		return NodeRouterPrompt, nil
	}
}

// NewShortCircuitNode emits the decision prepared by the turn setup.
func NewShortCircuitNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.TurnInput) (model.RoutingDecision, error) {
		var decision model.RoutingDecision
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			if s.Decision == nil {
				return fmt.Errorf("short-circuit without prepared decision")
			}
			decision = *s.Decision
			return nil
		})
		return decision, err
	})
}

// NewRouterPromptNode builds the classifier input from the session snapshot
// and a window of recent turns.
func NewRouterPromptNode(conv model.ConversationConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) ([]*schema.Message, error) {
		var rc prompts.RouterContext
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			rc = prompts.RouterContext{Session: s.Session, Message: s.Message}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return prompts.BuildRouterMessages(ctx, rc, conv.HistoryMaxTurns)
	})
}

// NewDecisionParserNode parses the classifier output defensively. Parse
// failures are folded back into conversation as a clarification request,
// never surfaced as system failures.
func NewDecisionParserNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (model.RoutingDecision, error) {
		var hasContext bool
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			hasContext = s.Session.Funnel != nil || s.Session.Cohort != nil
			return nil
		}); err != nil {
			return model.RoutingDecision{}, err
		}

		decision, err := parsers.ParseDecision(resp, hasContext)
		if err != nil {
			logx.Warn().Err(err).Msg("Routing output unparseable, falling back to ask-user")
			return model.RoutingDecision{
				Action:    model.ActionAskUser,
				Rationale: "routing output unparseable",
			}, nil
		}
		return *decision, nil
	})
}

// NewDecisionParserPostHandler stores the decision and records the routing
// metric.
func NewDecisionParserPostHandler(metrics *observability.Metrics) func(context.Context, model.RoutingDecision, *model.TurnState) (model.RoutingDecision, error) {
	return func(ctx context.Context, out model.RoutingDecision, s *model.TurnState) (model.RoutingDecision, error) {
		s.Decision = &out
		metrics.ObserveRouting(string(out.Action))
		logx.Debug().
			Str("session_id", s.Session.ID).
			Str("action", string(out.Action)).
			Msg("Routing decision")
		return out, nil
	}
}

// NewValidateNode re-validates the decision's parameters against the session
// context: classifier output is never trusted as already validated. It also
// applies the pending-supersede policy when the decision names a different
// tool than the in-flight PendingAction.
func NewValidateNode(conv model.ConversationConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, decision model.RoutingDecision) (model.RoutingDecision, error) {
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			s.Missing = nil

			if pending := sess.Pending; pending != nil && !s.ShortCircuit {
				switch decision.Action {
				case model.ActionCallFunnel, model.ActionCallCohort:
					if toolForAction(decision.Action) == pending.Tool {
						decision.Params = params.Merge(pending.Params, decision.Params)
					} else if conv.PendingSupersede {
						logx.Debug().
							Str("session_id", sess.ID).
							Str("superseded", pending.Tool).
							Msg("New request supersedes pending action")
						sess.Pending = nil
					} else {
						s.Clarify = fmt.Sprintf(
							"You still have an unfinished %s request (missing: %s). Send the missing values or say \"cancel\" to drop it.",
							pending.Tool, strings.Join(pending.Missing, ", "))
						decision.Action = model.ActionAskUser
						s.Decision = &decision
						return nil
					}
				}
			}

			switch decision.Action {
			case model.ActionCallFunnel:
				res := params.ResolveFunnel(decision.Params)
				s.RawParams = res.Supplied
				if !res.Complete() {
					s.Missing = res.Missing
				} else {
					s.FunnelParams = &res.Params
				}

			case model.ActionCallCohort:
				res := params.ResolveCohort(decision.Params, sess.Funnel)
				s.RawParams = res.Supplied
				switch {
				case res.InvalidRef != "":
					s.Clarify = fmt.Sprintf(
						"I don't have a funnel analysis with id %q in this conversation. The current funnel is %s; which one did you mean?",
						res.InvalidRef, sess.FunnelID())
					decision.Action = model.ActionAskUser
				case !res.Complete():
					s.Missing = res.Missing
				default:
					s.CohortParams = &res.Params
				}
			}

			s.Decision = &decision
			return nil
		})
		return decision, err
	})
}

// NewActionCondition routes the validated decision to its dispatch node.
func NewActionCondition() func(context.Context, model.RoutingDecision) (string, error) {
	return func(ctx context.Context, decision model.RoutingDecision) (string, error) {
		var missing int
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			missing = len(s.Missing)
			if s.Decision != nil {
				decision = *s.Decision
			}
			return nil
		}); err != nil {
			return "", err
		}

		if decision.Action == model.ActionAskUser || missing > 0 {
			return NodeAskUser, nil
		}
		switch decision.Action {
		case model.ActionCallFunnel:
			return NodeFunnelTool, nil
		case model.ActionCallCohort:
			return NodeCohortTool, nil
		default:
			return NodeAnswerContext, nil
		}
	}
}

// NewFunnelToolNode dispatches the validated funnel call. On success the
// result (and its minted funnel_id) is cached on the session and the pending
// action cleared; on failure the prepared call is kept pending so the user
// can simply ask to try again.
func NewFunnelToolNode(client FunnelClient) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.RoutingDecision) (*ToolOutcome, error) {
		var p model.FunnelParams
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			if s.FunnelParams == nil {
				return fmt.Errorf("funnel dispatch without validated params")
			}
			p = *s.FunnelParams
			return nil
		}); err != nil {
			return nil, err
		}

		result, err := client.AnalyzeFunnel(ctx, p)

		stateErr := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			if err != nil {
				sess.Pending = &model.PendingAction{
					Tool:      model.ToolAnalyzeFunnel,
					Params:    s.RawParams,
					CreatedAt: time.Now().UTC(),
				}
				return nil
			}
			sess.Funnel = result
			sess.Cohort = nil // cohort cache referenced the previous funnel
			sess.Pending = nil
			payload, merr := json.Marshal(result)
			if merr != nil {
				return fmt.Errorf("marshal funnel result: %w", merr)
			}
			sess.AppendTurn(model.RoleToolResult,
				fmt.Sprintf("funnel analysis %s completed", result.FunnelID), payload)
			return nil
		})
		if stateErr != nil {
			return nil, stateErr
		}
		return &ToolOutcome{Tool: model.ToolAnalyzeFunnel, Err: err}, nil
	})
}

// NewCohortToolNode dispatches the validated cohort call.
func NewCohortToolNode(client FunnelClient) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.RoutingDecision) (*ToolOutcome, error) {
		var p model.CohortParams
		if err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			if s.CohortParams == nil {
				return fmt.Errorf("cohort dispatch without validated params")
			}
			p = *s.CohortParams
			return nil
		}); err != nil {
			return nil, err
		}

		result, err := client.AnalyzeCohort(ctx, p)

		stateErr := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			if err != nil {
				sess.Pending = &model.PendingAction{
					Tool:      model.ToolAnalyzeCohort,
					Params:    s.RawParams,
					CreatedAt: time.Now().UTC(),
				}
				return nil
			}
			sess.Cohort = result
			sess.Pending = nil
			payload, merr := json.Marshal(result)
			if merr != nil {
				return fmt.Errorf("marshal cohort result: %w", merr)
			}
			sess.AppendTurn(model.RoleToolResult,
				fmt.Sprintf("cohort analysis of step %d completed", result.StepIndex), payload)
			return nil
		})
		if stateErr != nil {
			return nil, stateErr
		}
		return &ToolOutcome{Tool: model.ToolAnalyzeCohort, Err: err}, nil
	})
}

// NewReportNode turns a tool outcome into the user-facing turn output.
func NewReportNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, outcome *ToolOutcome) (*model.TurnOutput, error) {
		var out *model.TurnOutput
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session

			if outcome.Err != nil {
				retryable := errx.IsRetryable(outcome.Err)
				kind := "fatal"
				if retryable {
					kind = "retryable"
				}
				text := report.ToolFailure(outcome.Tool, retryable)
				sess.AppendTurn(model.RoleAgent, text, nil)
				out = &model.TurnOutput{
					Response: text,
					Metadata: model.TurnMetadata{
						ActionTaken: actionForTool(outcome.Tool),
						FunnelID:    sess.FunnelID(),
						ToolError:   kind,
					},
				}
				return nil
			}

			var text string
			if outcome.Tool == model.ToolAnalyzeFunnel {
				text = report.Funnel(sess.Funnel)
			} else {
				text = report.Cohort(sess.Cohort)
			}
			sess.AppendTurn(model.RoleAgent, text, nil)
			out = &model.TurnOutput{
				Response: text,
				Metadata: model.TurnMetadata{
					ActionTaken: actionForTool(outcome.Tool),
					FunnelID:    sess.FunnelID(),
				},
			}
			return nil
		})
		return out, err
	})
}

// NewAnswerContextNode answers from cached context: no external call, only
// restating values already present in the session.
func NewAnswerContextNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, decision model.RoutingDecision) (*model.TurnOutput, error) {
		var out *model.TurnOutput
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			text := report.AnswerFromContext(decision.Answer, sess)
			sess.AppendTurn(model.RoleAgent, text, nil)
			out = &model.TurnOutput{
				Response: text,
				Metadata: model.TurnMetadata{
					ActionTaken: model.ActionAnswerContext,
					FunnelID:    sess.FunnelID(),
				},
			}
			return nil
		})
		return out, err
	})
}

// NewAskUserNode asks for exactly the missing fields and records them on the
// session as a PendingAction so the next message can fill the gaps.
func NewAskUserNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, decision model.RoutingDecision) (*model.TurnOutput, error) {
		var out *model.TurnOutput
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			sess := s.Session
			action := model.ActionAskUser
			if s.Decision != nil {
				decision = *s.Decision
			}

			var text string
			switch {
			case s.Clarify != "":
				text = s.Clarify
			case len(s.Missing) > 0:
				text = report.MissingParams(s.Missing)
			default:
				text = "Could you clarify what you'd like me to analyze? For a funnel analysis I need a date range and at least two ordered steps."
			}

			if len(s.Missing) > 0 &&
				(decision.Action == model.ActionCallFunnel || decision.Action == model.ActionCallCohort) {
				action = decision.Action
				createdAt := time.Now().UTC()
				if sess.Pending != nil && sess.Pending.Tool == toolForAction(decision.Action) {
					createdAt = sess.Pending.CreatedAt
				}
				sess.Pending = &model.PendingAction{
					Tool:      toolForAction(decision.Action),
					Params:    s.RawParams,
					Missing:   s.Missing,
					CreatedAt: createdAt,
				}
			}

			sess.AppendTurn(model.RoleAgent, text, nil)
			out = &model.TurnOutput{
				Response:      text,
				NeedsInput:    true,
				MissingParams: s.Missing,
				Metadata: model.TurnMetadata{
					ActionTaken: action,
					FunnelID:    sess.FunnelID(),
				},
			}
			return nil
		})
		return out, err
	})
}
