// Package parsers converts raw classifier output into a RoutingDecision.
// The classifier guarantees no schema, so everything here is defensive:
// anything that does not map onto one of the known actions becomes an error
// the caller turns into an ASK_USER fallback. Parsed decisions are never
// treated as validated; the resolver re-checks every parameter.
package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/funnelscope/server/internal/agent/model"
	logx "github.com/funnelscope/server/pkg/logger"
)

// safety limits against pathological model output
const (
	maxArgsLen    = 32 * 1024
	maxContentLen = 64 * 1024
)

// ParseDecision interprets the router model's reply. A tool call maps to the
// corresponding action; a plain-text reply counts as answer-from-context
// when cached results exist (the text is the answer), otherwise it is a
// parse failure.
func ParseDecision(msg *schema.Message, hasContext bool) (*model.RoutingDecision, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty classifier response")
	}

	if len(msg.ToolCalls) > 0 {
		return parseToolCall(msg.ToolCalls[0])
	}

	content := strings.TrimSpace(msg.Content)
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}
	if content == "" {
		return nil, fmt.Errorf("classifier returned neither tool call nor text")
	}
	if !hasContext {
		return nil, fmt.Errorf("classifier returned free text with no cached context")
	}
	return &model.RoutingDecision{
		Action: model.ActionAnswerContext,
		Answer: content,
	}, nil
}

func parseToolCall(tc schema.ToolCall) (*model.RoutingDecision, error) {
	name := strings.TrimSpace(tc.Function.Name)
	args, err := parseArgs(tc.Function.Arguments)
	if err != nil {
		logx.Warn().Str("tool_name", name).Err(err).Msg("malformed routing tool arguments")
		return nil, err
	}

	switch name {
	case model.ToolAnalyzeFunnel:
		return &model.RoutingDecision{
			Action: model.ActionCallFunnel,
			Params: args,
		}, nil
	case model.ToolAnalyzeCohort:
		return &model.RoutingDecision{
			Action: model.ActionCallCohort,
			Params: args,
		}, nil
	case model.ToolAnswerMemory:
		answer, _ := args["answer"].(string)
		reasoning, _ := args["reasoning"].(string)
		if strings.TrimSpace(answer) == "" {
			return nil, fmt.Errorf("%s call carried no answer", model.ToolAnswerMemory)
		}
		return &model.RoutingDecision{
			Action:    model.ActionAnswerContext,
			Answer:    answer,
			Rationale: reasoning,
		}, nil
	default:
		return nil, fmt.Errorf("unknown routing tool %q", name)
	}
}

func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	if len(raw) > maxArgsLen {
		return nil, fmt.Errorf("arguments too large (%d bytes)", len(raw))
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments not a JSON object: %w", err)
	}
	return args, nil
}
