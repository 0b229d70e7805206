// Package factory builds concrete collaborators from configuration.
// Provider selection happens here, once, at composition time.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/config"
	"github.com/cs15tutor/engine/internal/llm"
	"github.com/cs15tutor/engine/internal/rag"
	"github.com/cs15tutor/engine/internal/store"
	"github.com/cs15tutor/engine/internal/store/memory"
	"github.com/cs15tutor/engine/internal/store/postgres"
	"github.com/cs15tutor/engine/internal/store/sqlite"
)

// NewStore opens the configured persistence driver and bootstraps its schema.
func NewStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.Bootstrap(ctx, db); err != nil {
			return nil, fmt.Errorf("bootstrap postgres schema: %w", err)
		}
		return postgres.NewWithDB(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.Bootstrap(ctx, db); err != nil {
			return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
		}
		return sqlite.NewWithDB(db), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// NewGenerator builds the configured LLM provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case "proxy":
		if cfg.ProxyEndpoint == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=proxy requires PROXY_ENDPOINT")
		}
		return llm.NewProxyGenerator(cfg.ProxyEndpoint, cfg.ProxyAPIKey, cfg.Model), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return llm.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
	}
}

// NewRetriever builds the configured retrieval backend wrapped in the
// best-effort service. A missing proxy endpoint yields a service with no
// backend, which degrades every retrieval to empty context.
func NewRetriever(cfg *config.Config, log zerolog.Logger) (*rag.Service, error) {
	switch cfg.RetrieverProvider {
	case "proxy":
		if cfg.ProxyEndpoint == "" {
			log.Warn().Msg("no retrieval endpoint configured, context retrieval disabled")
			return rag.NewService(nil, log), nil
		}
		return rag.NewService(rag.NewProxyRetriever(cfg.ProxyEndpoint, cfg.ProxyAPIKey), log), nil
	case "weaviate":
		emb := rag.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbedModel)
		r, err := rag.NewWeaviateRetriever(cfg.WeaviateURL, emb)
		if err != nil {
			return nil, fmt.Errorf("create weaviate retriever: %w", err)
		}
		return rag.NewService(r, log), nil
	default:
		return nil, fmt.Errorf("unsupported RETRIEVER_PROVIDER: %s", cfg.RetrieverProvider)
	}
}
