package model

// ================ Config ================
type ConversationConfig struct {
	TTL              string `envconfig:"SESSION_TTL" default:"24h"`
	HistoryMaxTurns  int    `envconfig:"CONVERSATION_HISTORY_MAX_TURNS" default:"10"`
	PendingSupersede bool   `envconfig:"CONVERSATION_PENDING_SUPERSEDE" default:"true"`
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0.1"`
}

type AnalyticsConfig struct {
	BaseURL        string `envconfig:"ANALYTICS_BASE_URL" default:"http://localhost:8080/api"`
	TimeoutSeconds int    `envconfig:"ANALYTICS_TIMEOUT_SECONDS" default:"30"`
	MaxAttempts    int    `envconfig:"ANALYTICS_MAX_ATTEMPTS" default:"3"`
	BackoffBaseMS  int    `envconfig:"ANALYTICS_BACKOFF_BASE_MS" default:"2000"`
	BackoffMaxMS   int    `envconfig:"ANALYTICS_BACKOFF_MAX_MS" default:"10000"`
}

type ServerConfig struct {
	Addr               string `envconfig:"SERVER_ADDR" default:":8000"`
	TurnTimeoutSeconds int    `envconfig:"SERVER_TURN_TIMEOUT_SECONDS" default:"90"`
}
