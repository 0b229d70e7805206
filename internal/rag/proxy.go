package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cs15tutor/engine/internal/model"
)

// ProxyRetriever queries the LLM proxy's retrieval API. It shares the
// endpoint and key with the proxy generator but issues request_type
// "retrieve" calls.
type ProxyRetriever struct {
	client    *resty.Client
	apiKey    string
	sessionID string
}

func NewProxyRetriever(endpoint, apiKey string) *ProxyRetriever {
	c := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)

	return &ProxyRetriever{client: c, apiKey: apiKey, sessionID: "GenericSession"}
}

type proxyRetrieveRequest struct {
	Query        string  `json:"query"`
	SessionID    string  `json:"session_id"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGK         int     `json:"rag_k"`
}

func (p *ProxyRetriever) Retrieve(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, error) {
	body := proxyRetrieveRequest{
		Query:        query,
		SessionID:    p.sessionID,
		RAGThreshold: threshold,
		RAGK:         k,
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("request_type", "retrieve").
		SetBody(&body).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("proxy retrieve: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("proxy retrieve: status %d", resp.StatusCode())
	}

	var out []model.Fragment
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("proxy retrieve: decode response: %w", err)
	}
	return out, nil
}
