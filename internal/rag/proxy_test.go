package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs15tutor/engine/internal/model"
)

func TestProxyRetrieverWireProtocol(t *testing.T) {
	var gotHeaders http.Header
	var gotBody proxyRetrieveRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`[{"doc_summary": "S", "chunks": ["a", "b"]}]`))
	}))
	defer srv.Close()

	p := NewProxyRetriever(srv.URL, "secret-key")
	frags, err := p.Retrieve(context.Background(), "how do heaps work?", 0.4, 5)
	require.NoError(t, err)

	require.Len(t, frags, 1)
	assert.Equal(t, model.Fragment{Summary: "S", Chunks: []string{"a", "b"}}, frags[0])

	assert.Equal(t, "secret-key", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "retrieve", gotHeaders.Get("request_type"))
	assert.Equal(t, "how do heaps work?", gotBody.Query)
	assert.InDelta(t, 0.4, gotBody.RAGThreshold, 1e-9)
	assert.Equal(t, 5, gotBody.RAGK)
}

func TestProxyRetrieverNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProxyRetriever(srv.URL, "k")
	_, err := p.Retrieve(context.Background(), "q", 0.4, 5)
	assert.Error(t, err)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)
		_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "mxbai-embed-large")
	vec, err := e.Embed(context.Background(), "heaps")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.InDelta(t, 0.2, vec[1], 1e-6)
}

func TestOllamaEmbedderEmptyText(t *testing.T) {
	e := NewOllamaEmbedder("http://localhost:11434", "m")
	_, err := e.Embed(context.Background(), "")
	assert.Error(t, err)
}
