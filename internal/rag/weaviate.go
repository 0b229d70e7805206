package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/cs15tutor/engine/internal/model"
)

// courseDocClass is the Weaviate class holding indexed course material.
// Each object is one chunk tagged with the summary of its source document.
const courseDocClass = "CourseDoc"

// hybridAlpha balances keyword vs vector scoring in hybrid search.
const hybridAlpha = 0.6

// WeaviateRetriever runs hybrid search over indexed course documents and
// groups chunk hits by their source document summary.
type WeaviateRetriever struct {
	client *weaviate.Client
	emb    Embedder
}

// NewWeaviateRetriever connects to Weaviate at baseURL (host:port, no scheme).
func NewWeaviateRetriever(baseURL string, emb Embedder) (*WeaviateRetriever, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &WeaviateRetriever{client: cl, emb: emb}, nil
}

func (w *WeaviateRetriever) Retrieve(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, error) {
	vec, err := w.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hy := (&gql.HybridArgumentBuilder{}).
		WithQuery(query).
		WithVector(vec).
		WithAlpha(hybridAlpha).
		WithProperties([]string{"summary", "chunk"})

	// Over-fetch chunks; k caps the number of grouped fragments below.
	req := w.client.GraphQL().Get().
		WithClassName(courseDocClass).
		WithHybrid(hy).
		WithLimit(k * 4).
		WithFields(
			gql.Field{Name: "summary"},
			gql.Field{Name: "chunk"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "score"}}},
		)

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate graphql: %s", strings.Join(msgs, "; "))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := getData[courseDocClass].([]interface{})
	if !ok {
		return nil, nil
	}

	safeString := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}

	// Group chunks by document summary, preserving first-hit order.
	var order []string
	chunksBySummary := make(map[string][]string)
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var score float64
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			switch v := add["score"].(type) {
			case float64:
				score = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					score = f
				}
			}
		}
		if score < threshold {
			continue
		}
		summary := safeString(m["summary"])
		chunk := safeString(m["chunk"])
		if chunk == "" {
			continue
		}
		if _, seen := chunksBySummary[summary]; !seen {
			order = append(order, summary)
		}
		chunksBySummary[summary] = append(chunksBySummary[summary], chunk)
	}

	if len(order) > k {
		order = order[:k]
	}
	out := make([]model.Fragment, 0, len(order))
	for _, summary := range order {
		out = append(out, model.Fragment{Summary: summary, Chunks: chunksBySummary[summary]})
	}
	return out, nil
}
