package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/funnelscope/server/internal/agent/model"
	logx "github.com/funnelscope/server/pkg/logger"
)

// RouterModelConfig holds what is needed to construct the routing classifier.
type RouterModelConfig struct {
	APIKey  string
	BaseURL string
	Config  model.RouterModelConfig
}

// NewRouterModel creates the Gemini chat model used as the decision
// classifier and binds the routing function vocabulary to it. Temperature
// stays low for consistent routing; the output is still never trusted
// without re-validation.
func NewRouterModel(ctx context.Context, cfg RouterModelConfig) (*gemini.ChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Config.Model,
		Temperature: &cfg.Config.Temperature,
		MaxTokens:   &cfg.Config.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating router model")
		return nil, fmt.Errorf("error creating router model: %w", err)
	}

	if err := chatModel.BindTools(RoutingToolInfos()); err != nil {
		logx.Error().Err(err).Msg("Failed to bind routing tools")
		return nil, fmt.Errorf("failed to bind routing tools: %w", err)
	}

	logx.Debug().Str("model", cfg.Config.Model).Msg("Router model ready")
	return chatModel, nil
}
