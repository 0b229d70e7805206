package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProxyGenerator calls an LLM proxy endpoint that multiplexes model access
// behind a single HTTP API keyed by x-api-key. The proxy tracks
// conversations server-side via session_id/lastk.
type ProxyGenerator struct {
	client *resty.Client
	apiKey string
	model  string
}

// NewProxyGenerator builds a generator for the given proxy endpoint.
func NewProxyGenerator(endpoint, apiKey, model string) *ProxyGenerator {
	c := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Content-Type", "application/json").
		SetTimeout(2 * time.Minute)

	return &ProxyGenerator{client: c, apiKey: apiKey, model: model}
}

func (p *ProxyGenerator) Model() string { return p.model }

type proxyCallRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system"`
	Query       string  `json:"query"`
	Temperature float64 `json:"temperature"`
	LastK       int     `json:"lastk"`
	SessionID   string  `json:"session_id,omitempty"`
	RAGUsage    bool    `json:"rag_usage"`
}

type proxyCallResponse struct {
	Result   string `json:"result"`
	Response string `json:"response"`
}

// Generate sends the last user message with the system context; the proxy
// replays up to LastK prior turns from its own session state. Retrieval is
// always disabled here because the engine handles it separately.
func (p *ProxyGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := proxyCallRequest{
		Model:       p.model,
		System:      req.System,
		Query:       LastUserMessage(req.Messages),
		Temperature: req.Temperature,
		LastK:       req.LastK,
		SessionID:   req.SessionID,
		RAGUsage:    false,
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("request_type", "call").
		SetBody(&body).
		Post("")
	if err != nil {
		return "", &GenerationError{Provider: "proxy", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &GenerationError{Provider: "proxy", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}

	var out proxyCallResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &GenerationError{Provider: "proxy", Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Result != "" {
		return out.Result, nil
	}
	return out.Response, nil
}
