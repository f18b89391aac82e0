package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/funnelscope/server/internal/agent/model"
)

//go:embed template/router_prompt.txt
var routerSystemPrompt string

// RouterContext is the snapshot of session state rendered into the routing
// prompt: cached results, and the pending tool call if one is in progress.
type RouterContext struct {
	Session *model.Session
	Message string
}

// RenderRouterSystem renders the routing system prompt via the Eino prompt
// component, which also triggers prompt callbacks.
func RenderRouterSystem(ctx context.Context, rc RouterContext) (string, error) {
	if rc.Session == nil {
		return "", fmt.Errorf("router context session is nil")
	}

	vars := map[string]any{
		"FunnelTool": model.ToolAnalyzeFunnel,
		"CohortTool": model.ToolAnalyzeCohort,
		"MemoryTool": model.ToolAnswerMemory,
		"FunnelID":   rc.Session.FunnelID(),
		"FunnelJSON": marshalIndent(rc.Session.Funnel),
		"CohortJSON": marshalIndent(rc.Session.Cohort),
	}
	if p := rc.Session.Pending; p != nil {
		vars["PendingTool"] = p.Tool
		vars["PendingCollected"] = marshalCompact(p.Params)
		vars["PendingMissing"] = strings.Join(p.Missing, ", ")
	} else {
		vars["PendingTool"] = ""
		vars["PendingCollected"] = ""
		vars["PendingMissing"] = ""
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(routerSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("router prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("router prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// BuildRouterMessages assembles the full classifier input: system prompt,
// a window of recent conversation turns, and the current user message.
func BuildRouterMessages(ctx context.Context, rc RouterContext, maxTurns int) ([]*schema.Message, error) {
	systemPrompt, err := RenderRouterSystem(ctx, rc)
	if err != nil {
		return nil, err
	}

	messages := []*schema.Message{schema.SystemMessage(systemPrompt)}

	turns := rc.Session.RecentTurns(maxTurns)
	for i, t := range turns {
		// the current message was already appended as the last user turn
		if i == len(turns)-1 && t.Role == model.RoleUser && t.Content == rc.Message {
			continue
		}
		switch t.Role {
		case model.RoleUser:
			messages = append(messages, schema.UserMessage(t.Content))
		case model.RoleAgent:
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		}
		// tool-result turns are carried by the snapshot above, not replayed
	}

	messages = append(messages, schema.UserMessage(rc.Message))
	return messages, nil
}

func marshalIndent(v any) string {
	if v == nil || isNilPointer(v) {
		return ""
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func isNilPointer(v any) bool {
	switch vv := v.(type) {
	case *model.FunnelResult:
		return vv == nil
	case *model.CohortResult:
		return vv == nil
	default:
		return false
	}
}
