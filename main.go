package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/funnelscope/server/internal/agent/graph"
	"github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/orchestrator"
	"github.com/funnelscope/server/internal/agent/repo"
	"github.com/funnelscope/server/internal/core"
	"github.com/funnelscope/server/internal/httpapi"
	"github.com/funnelscope/server/internal/observability"
	logx "github.com/funnelscope/server/pkg/logger"
	pkgredis "github.com/funnelscope/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Router       model.RouterModelConfig
	Conversation model.ConversationConfig
	Analytics    model.AnalyticsConfig
	Server       model.ServerConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", envCfg.Conversation.TTL).Msg("Invalid SESSION_TTL")
	}

	var store repo.SessionStore
	if envCfg.Redis.Enabled() {
		rdb, err := envCfg.Redis.New()
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		store = repo.NewStore(rdb, ttl)
		logx.Info().Msg("Using Redis session store")
	} else {
		store = repo.NewStore(nil, ttl)
		logx.Warn().Msg("REDIS_URL not set, sessions are in-memory and lost on restart")
	}

	metrics := observability.NewMetrics("funnelscope")

	runner, err := graph.BuildTurnGraph(ctx, graph.Config{
		APIKey:       envCfg.APIKey,
		BaseURL:      envCfg.BaseURL,
		RouterModel:  envCfg.Router,
		Conversation: envCfg.Conversation,
		Analytics:    envCfg.Analytics,
		Metrics:      metrics,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build turn graph")
	}

	turnTimeout := time.Duration(envCfg.Server.TurnTimeoutSeconds) * time.Second
	orch := orchestrator.New(store, runner, metrics, turnTimeout)

	srv := &http.Server{
		Addr:    envCfg.Server.Addr,
		Handler: httpapi.New(orch).Router(),
	}

	go func() {
		logx.Info().Str("addr", envCfg.Server.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logx.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
