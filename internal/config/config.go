package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the tutor engine.
// Environment variables are parsed from the TUTOR_ prefix,
// e.g. TUTOR_HTTP_PORT, TUTOR_LLM_PROVIDER.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"cs15_tutor_logs.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// LLM provider selection: proxy | openai | gemini
	LLMProvider   string `envconfig:"LLM_PROVIDER" default:"proxy"`
	ProxyEndpoint string `envconfig:"PROXY_ENDPOINT" default:""`
	ProxyAPIKey   string `envconfig:"PROXY_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`

	// Generation settings
	Model       string  `envconfig:"MODEL" default:"4o-mini"`
	Temperature float64 `envconfig:"TEMPERATURE" default:"0.5"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"0"`

	// Retrieval provider selection: proxy | weaviate
	RetrieverProvider string  `envconfig:"RETRIEVER_PROVIDER" default:"proxy"`
	WeaviateURL       string  `envconfig:"WEAVIATE_URL" default:"localhost:8081"`
	OllamaURL         string  `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	EmbedModel        string  `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	RAGThreshold      float64 `envconfig:"RAG_THRESHOLD" default:"0.4"`
	RAGK              int     `envconfig:"RAG_K" default:"5"`

	// Health points (rate limiting)
	MaxHealthPoints    int `envconfig:"MAX_HEALTH_POINTS" default:"12"`
	HealthRegenSeconds int `envconfig:"HEALTH_REGEN_SECONDS" default:"180"`

	// Quality checking
	QualityThreshold int `envconfig:"QUALITY_THRESHOLD" default:"7"`
	MaxAttempts      int `envconfig:"MAX_ATTEMPTS" default:"3"`

	// Conversation session state
	SystemPromptPath string `envconfig:"SYSTEM_PROMPT_PATH" default:"system_prompt.txt"`
	MaxContextBytes  int    `envconfig:"MAX_CONTEXT_BYTES" default:"0"`

	// Development bypass: the designated identity is exempt from
	// rate limiting when DevelopmentMode is set.
	DevelopmentMode bool   `envconfig:"DEVELOPMENT_MODE" default:"false"`
	DevUser         string `envconfig:"DEV_USER" default:"testuser"`
}

// ResolveDefaults validates provider selections and driver/DSN pairing.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"postgres": true, "sqlite": true, "memory": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}

	allowedLLM := map[string]bool{"proxy": true, "openai": true, "gemini": true}
	if !allowedLLM[c.LLMProvider] {
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}

	allowedRetriever := map[string]bool{"proxy": true, "weaviate": true}
	if !allowedRetriever[c.RetrieverProvider] {
		return fmt.Errorf("unsupported RETRIEVER_PROVIDER: %s", c.RetrieverProvider)
	}

	if c.MaxHealthPoints <= 0 {
		return fmt.Errorf("MAX_HEALTH_POINTS must be positive")
	}
	if c.HealthRegenSeconds <= 0 {
		return fmt.Errorf("HEALTH_REGEN_SECONDS must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("TUTOR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("db_driver", cfg.DBDriver).
		Str("llm_provider", cfg.LLMProvider).
		Str("retriever_provider", cfg.RetrieverProvider).
		Str("model", cfg.Model).
		Int("max_health_points", cfg.MaxHealthPoints).
		Int("quality_threshold", cfg.QualityThreshold).
		Bool("development_mode", cfg.DevelopmentMode).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:        EnvTesting,
		HTTPPort:           8080,
		DBDriver:           "memory",
		LLMProvider:        "proxy",
		RetrieverProvider:  "proxy",
		Model:              "4o-mini",
		Temperature:        0.5,
		RAGThreshold:       0.4,
		RAGK:               5,
		MaxHealthPoints:    12,
		HealthRegenSeconds: 180,
		QualityThreshold:   7,
		MaxAttempts:        3,
		SystemPromptPath:   "system_prompt.txt",
		DevUser:            "testuser",
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
