// Package tutor coordinates one query through retrieval, quality-gated
// generation, and interaction logging.
package tutor

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/llm"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/quality"
	"github.com/cs15tutor/engine/internal/rag"
	"github.com/cs15tutor/engine/internal/store"
)

const defaultSystemPrompt = "You are a friendly and brief Teaching Assistant (TA) for CS 15: Data Structures at Tufts University."

// generationApology replaces the response when a generation call fails.
// Transport failures are not retried; the user sees this text, never the
// raw error.
const generationApology = "I apologize, but I encountered an error while generating a response. Please try again."

// Options carries the generation and gating policy.
type Options struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	RAGThreshold     float64
	RAGK             int
	QualityThreshold int
	MaxAttempts      int
	SystemPromptPath string

	// DevelopmentMode re-reads the system prompt file on every access.
	DevelopmentMode bool
}

// Orchestrator runs the retrieve, generate, check, log pipeline.
type Orchestrator struct {
	gen     llm.Generator
	rag     *rag.Service
	checker *quality.Checker
	store   store.Store
	opts    Options
	log     zerolog.Logger

	promptOnce sync.Once
	prompt     string
}

func NewOrchestrator(gen llm.Generator, ragSvc *rag.Service, checker *quality.Checker, st store.Store, opts Options, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		gen:     gen,
		rag:     ragSvc,
		checker: checker,
		store:   st,
		opts:    opts,
		log:     log,
	}
}

// ProcessRequest is one query plus the conversation state the caller
// holds. History and AccumulatedContext are read, never mutated; the
// caller owns that bookkeeping.
type ProcessRequest struct {
	Message            string
	ConversationID     string
	History            []llm.ChatMessage
	User               *model.AnonymousUser
	Platform           string
	AccumulatedContext string
}

// ProcessQuery runs the full pipeline and always produces a result; all
// failure modes degrade to best-effort text rather than errors.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req ProcessRequest) *model.ProcessResult {
	start := time.Now()

	o.log.Info().
		Str("anonymous_id", req.User.AnonymousID).
		Str("platform", req.Platform).
		Str("message", truncate(req.Message, 50)).
		Msg("processing query")

	_, formatted := o.rag.RetrieveAndFormat(ctx, req.Message, o.opts.RAGThreshold, o.opts.RAGK)

	// The full context for this turn is everything the conversation has
	// accumulated plus what this query just retrieved.
	fullContext := req.AccumulatedContext
	if formatted != "" {
		if fullContext != "" {
			fullContext = fullContext + "\n\n" + formatted
		} else {
			fullContext = formatted
		}
	}

	response := o.generateChecked(ctx, req.Message, fullContext, req.History, req.ConversationID)

	elapsed := time.Since(start).Milliseconds()
	o.log.Info().
		Str("anonymous_id", req.User.AnonymousID).
		Int("response_len", len(response)).
		Int64("elapsed_ms", elapsed).
		Msg("query processed")

	return &model.ProcessResult{
		Response:       response,
		RAGContext:     formatted,
		ConversationID: req.ConversationID,
		ResponseTimeMs: elapsed,
		Metadata: model.ResultMetadata{
			ProcessingStages: []string{"rag_retrieval", "quality_checked_generation"},
			QualityChecked:   true,
			RAGContextUsed:   formatted != "",
			Model:            o.gen.Model(),
			Temperature:      o.opts.Temperature,
		},
	}
}

// generateChecked runs the quality loop: generate, score, and either
// accept, regenerate from an enhancement prompt, or give up and return
// the last attempt. A generation failure short-circuits to the apology.
func (o *Orchestrator) generateChecked(ctx context.Context, message, ragContext string, history []llm.ChatMessage, conversationID string) string {
	response, err := o.generate(ctx, message, ragContext, history, conversationID)
	if err != nil {
		o.log.Error().Err(err).Msg("generation failed")
		return generationApology
	}

	for attempt := 0; attempt < o.opts.MaxAttempts; attempt++ {
		score, feedback := o.checker.Check(ctx, message, response, ragContext)

		if score >= o.opts.QualityThreshold {
			o.log.Debug().Int("score", score).Int("attempt", attempt+1).Msg("quality check passed")
			return response
		}

		o.log.Info().Int("score", score).Int("attempt", attempt+1).Str("feedback", truncate(feedback, 100)).Msg("quality check failed")

		if attempt == o.opts.MaxAttempts-1 {
			o.log.Warn().Msg("quality attempts exhausted, returning last response")
			return response
		}

		enhanced := o.checker.EnhancementPrompt(response, feedback)
		response, err = o.generate(ctx, enhanced, ragContext, history, conversationID)
		if err != nil {
			o.log.Error().Err(err).Msg("regeneration failed")
			return generationApology
		}
	}
	return response
}

// generate issues one completion with the materialized system prompt and
// the query-plus-context as the final user turn.
func (o *Orchestrator) generate(ctx context.Context, message, ragContext string, history []llm.ChatMessage, conversationID string) (string, error) {
	query := "student query: " + message
	if ragContext != "" {
		query += "\n\n" + ragContext
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: query})

	lastK := 0
	if len(history) > 0 {
		lastK = len(history) / 2
	}

	return o.gen.Generate(ctx, llm.GenerateRequest{
		System:      o.systemPrompt(),
		Messages:    msgs,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
		SessionID:   conversationID,
		LastK:       lastK,
	})
}

// systemPrompt returns the base instruction text. The file is read once
// and cached, except in development mode where every access re-reads it
// so prompt edits land without a restart.
func (o *Orchestrator) systemPrompt() string {
	if o.opts.DevelopmentMode {
		return o.loadSystemPrompt()
	}
	o.promptOnce.Do(func() {
		o.prompt = o.loadSystemPrompt()
	})
	return o.prompt
}

func (o *Orchestrator) loadSystemPrompt() string {
	if o.opts.SystemPromptPath == "" {
		return defaultSystemPrompt
	}
	data, err := os.ReadFile(o.opts.SystemPromptPath)
	if err != nil {
		o.log.Warn().Err(err).Str("path", o.opts.SystemPromptPath).Msg("system prompt file unavailable, using default")
		return defaultSystemPrompt
	}
	return strings.TrimSpace(string(data))
}

// InteractionSummary is the anonymized outcome of logging one exchange.
type InteractionSummary struct {
	AnonymousID        string `json:"anonymous_id"`
	ConversationID     string `json:"conversation_id"`
	Platform           string `json:"platform"`
	IsNewConversation  bool   `json:"is_new_conversation"`
	TotalConversations int64  `json:"user_total_conversations"`
}

// LogInteraction persists one query/response exchange. It is best-effort:
// any store failure is logged and an empty summary returned, never an
// error. Callers fire it after responding.
func (o *Orchestrator) LogInteraction(ctx context.Context, utlnHash, conversationID, query, response, platform string, ragContext string, responseTimeMs int64) InteractionSummary {
	user, _, err := o.store.Users().GetOrCreate(ctx, utlnHash)
	if err != nil {
		o.log.Error().Err(err).Msg("interaction logging: user lookup failed")
		return InteractionSummary{}
	}

	conv, err := o.store.Conversations().GetOrCreate(ctx, conversationID, user.ID, platform)
	if err != nil {
		o.log.Error().Err(err).Msg("interaction logging: conversation lookup failed")
		return InteractionSummary{}
	}

	if err := o.store.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ID,
		Type:           model.MessageTypeQuery,
		Content:        query,
	}); err != nil {
		o.log.Error().Err(err).Msg("interaction logging: query write failed")
		return InteractionSummary{}
	}

	modelName := o.gen.Model()
	temp := o.opts.Temperature
	msg := &model.Message{
		ConversationID: conv.ID,
		Type:           model.MessageTypeResponse,
		Content:        response,
		Model:          &modelName,
		Temperature:    &temp,
		ResponseTimeMs: &responseTimeMs,
	}
	if ragContext != "" {
		msg.RAGContext = &ragContext
	}
	if err := o.store.Messages().Create(ctx, msg); err != nil {
		o.log.Error().Err(err).Msg("interaction logging: response write failed")
		return InteractionSummary{}
	}

	// One touch per stored message: the student query and the response.
	if err := o.store.Conversations().TouchMessage(ctx, conv.ID); err != nil {
		o.log.Error().Err(err).Msg("interaction logging: conversation touch failed")
	}
	if err := o.store.Conversations().TouchMessage(ctx, conv.ID); err != nil {
		o.log.Error().Err(err).Msg("interaction logging: conversation touch failed")
	}

	count, err := o.store.Users().ConversationCount(ctx, user.ID)
	if err != nil {
		o.log.Warn().Err(err).Msg("interaction logging: conversation count failed")
	}

	return InteractionSummary{
		AnonymousID:        user.AnonymousID,
		ConversationID:     conversationID,
		Platform:           platform,
		IsNewConversation:  conv.MessageCount == 0,
		TotalConversations: count,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
