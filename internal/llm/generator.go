// Package llm abstracts answer generation behind a single Generator
// interface with one concrete type per provider. The provider is chosen
// once at composition time, never per call.
package llm

import (
	"context"
	"fmt"
)

// Chat roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest carries everything a provider needs for one completion.
// Messages hold prior turns in order; the final element is the current
// user query. System carries the materialized instruction context.
type GenerateRequest struct {
	System      string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int

	// SessionID and LastK are honored by providers that track
	// conversations server-side; others derive history from Messages.
	SessionID string
	LastK     int
}

// Generator produces text from a message list. Implementations wrap
// transport failures in *GenerationError.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Model() string
}

// GenerationError marks a generation transport or provider failure.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
