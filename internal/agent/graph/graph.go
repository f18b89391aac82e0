package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/funnelscope/server/internal/agent/graph/nodes"
	"github.com/funnelscope/server/internal/agent/graph/observers"
	agentmodel "github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/tools"
	"github.com/funnelscope/server/internal/observability"
	logx "github.com/funnelscope/server/pkg/logger"
)

// Runner is a thin wrapper to execute the compiled graph for one turn.
type Runner interface {
	Invoke(ctx context.Context, in agentmodel.TurnInput) (*agentmodel.TurnOutput, error)
}

// Config holds everything needed to compose the full turn graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the
// router model and the analytics client.
type Config struct {
	APIKey       string
	BaseURL      string
	RouterModel  agentmodel.RouterModelConfig
	Conversation agentmodel.ConversationConfig
	Analytics    agentmodel.AnalyticsConfig
	Metrics      *observability.Metrics
}

// GraphConfig holds all configuration needed to build the graph. RouterModel
// is the interface type so tests can substitute a scripted model.
type GraphConfig struct {
	RouterModel  model.BaseChatModel
	Client       nodes.FunnelClient
	Conversation agentmodel.ConversationConfig
	Metrics      *observability.Metrics
}

// GraphBuilder handles the construction of the turn graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[agentmodel.TurnInput, *agentmodel.TurnOutput]
}

type graphRunner struct {
	runnable compose.Runnable[agentmodel.TurnInput, *agentmodel.TurnOutput]
}

func (r *graphRunner) Invoke(ctx context.Context, in agentmodel.TurnInput) (*agentmodel.TurnOutput, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("graph produced no output")
	}
	return out, nil
}

// BuildTurnGraph composes the router model and analytics client, builds the
// graph, and returns a Runner.
func BuildTurnGraph(ctx context.Context, cfg Config) (Runner, error) {
	routerModel, err := nodes.NewRouterModel(ctx, nodes.RouterModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Config:  cfg.RouterModel,
	})
	if err != nil {
		return nil, err
	}

	client := tools.NewClient(tools.ConfigFromEnv(cfg.Analytics), cfg.Metrics)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		RouterModel:  routerModel,
		Client:       client,
		Conversation: cfg.Conversation,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Turn graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled turn graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[agentmodel.TurnInput, *agentmodel.TurnOutput], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.RouterModel == nil {
		return nil, fmt.Errorf("router model is not initialized")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("analytics client is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[agentmodel.TurnInput, *agentmodel.TurnOutput](
			compose.WithGenLocalState(func(ctx context.Context) *agentmodel.TurnState {
				return &agentmodel.TurnState{}
			}),
		),
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeTurnSetup,
		nodes.NewTurnSetupNode(),
		compose.WithStatePreHandler(nodes.NewTurnSetupPreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeRouterPrompt,
		nodes.NewRouterPromptNode(b.config.Conversation),
	)

	b.graph.AddChatModelNode(nodes.NodeRouterModel, b.config.RouterModel)

	b.graph.AddLambdaNode(nodes.NodeDecisionParser,
		nodes.NewDecisionParserNode(),
		compose.WithStatePostHandler(nodes.NewDecisionParserPostHandler(b.config.Metrics)),
	)

	b.graph.AddLambdaNode(nodes.NodeShortCircuit,
		nodes.NewShortCircuitNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeValidate,
		nodes.NewValidateNode(b.config.Conversation),
	)

	b.graph.AddLambdaNode(nodes.NodeFunnelTool,
		nodes.NewFunnelToolNode(b.config.Client),
	)

	b.graph.AddLambdaNode(nodes.NodeCohortTool,
		nodes.NewCohortToolNode(b.config.Client),
	)

	b.graph.AddLambdaNode(nodes.NodeReport,
		nodes.NewReportNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeAnswerContext,
		nodes.NewAnswerContextNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeAskUser,
		nodes.NewAskUserNode(),
	)
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeTurnSetup},
		{nodes.NodeRouterPrompt, nodes.NodeRouterModel},
		{nodes.NodeRouterModel, nodes.NodeDecisionParser},
		{nodes.NodeDecisionParser, nodes.NodeValidate},
		{nodes.NodeShortCircuit, nodes.NodeValidate},
		{nodes.NodeFunnelTool, nodes.NodeReport},
		{nodes.NodeCohortTool, nodes.NodeReport},
		{nodes.NodeReport, compose.END},
		{nodes.NodeAnswerContext, compose.END},
		{nodes.NodeAskUser, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	shortCircuitBranch := compose.NewGraphBranch(
		nodes.NewShortCircuitCondition(),
		map[string]bool{
			nodes.NodeRouterPrompt: true,
			nodes.NodeShortCircuit: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeTurnSetup, shortCircuitBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding short-circuit branch")
		return fmt.Errorf("error adding short-circuit branch: %w", err)
	}

	actionBranch := compose.NewGraphBranch(
		nodes.NewActionCondition(),
		map[string]bool{
			nodes.NodeFunnelTool:    true,
			nodes.NodeCohortTool:    true,
			nodes.NodeAnswerContext: true,
			nodes.NodeAskUser:       true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeValidate, actionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding action branch")
		return fmt.Errorf("error adding action branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[agentmodel.TurnInput, *agentmodel.TurnOutput], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(20))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
