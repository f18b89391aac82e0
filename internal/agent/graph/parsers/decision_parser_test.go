package parsers

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/server/internal/agent/model"
)

func toolCallMessage(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func TestParseDecisionFunnelCall(t *testing.T) {
	msg := toolCallMessage(model.ToolAnalyzeFunnel,
		`{"start_date":"2026-01-01","end_date":"2026-01-31","funnel_steps":["signup","purchase"]}`)

	d, err := ParseDecision(msg, false)

	require.NoError(t, err)
	assert.Equal(t, model.ActionCallFunnel, d.Action)
	assert.Equal(t, "2026-01-01", d.Params["start_date"])
}

func TestParseDecisionCohortCall(t *testing.T) {
	msg := toolCallMessage(model.ToolAnalyzeCohort, `{"step_index":2}`)

	d, err := ParseDecision(msg, true)

	require.NoError(t, err)
	assert.Equal(t, model.ActionCallCohort, d.Action)
	assert.EqualValues(t, 2, d.Params["step_index"])
}

func TestParseDecisionAnswerFromMemory(t *testing.T) {
	msg := toolCallMessage(model.ToolAnswerMemory,
		`{"answer":"Overall conversion was 34.2%.","reasoning":"value cached from the last funnel run"}`)

	d, err := ParseDecision(msg, true)

	require.NoError(t, err)
	assert.Equal(t, model.ActionAnswerContext, d.Action)
	assert.Equal(t, "Overall conversion was 34.2%.", d.Answer)
	assert.Equal(t, "value cached from the last funnel run", d.Rationale)
}

func TestParseDecisionAnswerWithoutTextFails(t *testing.T) {
	msg := toolCallMessage(model.ToolAnswerMemory, `{"answer":"  "}`)

	_, err := ParseDecision(msg, true)

	assert.Error(t, err)
}

func TestParseDecisionUnknownTool(t *testing.T) {
	msg := toolCallMessage("drop_all_tables", `{}`)

	_, err := ParseDecision(msg, true)

	assert.Error(t, err)
}

func TestParseDecisionMalformedArguments(t *testing.T) {
	msg := toolCallMessage(model.ToolAnalyzeFunnel, `{"start_date": `)

	_, err := ParseDecision(msg, false)

	assert.Error(t, err)
}

func TestParseDecisionPlainTextWithContext(t *testing.T) {
	msg := &schema.Message{Role: schema.Assistant, Content: "The biggest drop was at checkout."}

	d, err := ParseDecision(msg, true)

	require.NoError(t, err)
	assert.Equal(t, model.ActionAnswerContext, d.Action)
	assert.Equal(t, "The biggest drop was at checkout.", d.Answer)
}

func TestParseDecisionPlainTextWithoutContextFails(t *testing.T) {
	msg := &schema.Message{Role: schema.Assistant, Content: "Hello!"}

	_, err := ParseDecision(msg, false)

	assert.Error(t, err)
}

func TestParseDecisionEmptyMessage(t *testing.T) {
	_, err := ParseDecision(&schema.Message{Role: schema.Assistant}, true)
	assert.Error(t, err)

	_, err = ParseDecision(nil, true)
	assert.Error(t, err)
}
