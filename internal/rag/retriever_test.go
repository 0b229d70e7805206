package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/cs15tutor/engine/internal/model"
)

type fakeRetriever struct {
	fragments []model.Fragment
	err       error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, error) {
	return f.fragments, f.err
}

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, "", Format(nil))
	assert.Equal(t, "", Format([]model.Fragment{}))
}

func TestFormatNumberedOutline(t *testing.T) {
	got := Format([]model.Fragment{
		{Summary: "S", Chunks: []string{"a", "b"}},
		{Summary: "T", Chunks: []string{"c"}},
	})

	assert.Contains(t, got, formatPreamble)
	assert.Contains(t, got, "#1 S\n")
	assert.Contains(t, got, "#1.1 a\n")
	assert.Contains(t, got, "#1.2 b\n")
	assert.Contains(t, got, "#2 T\n")
	assert.Contains(t, got, "#2.1 c\n")
}

func TestFormatPreservesOrder(t *testing.T) {
	got := Format([]model.Fragment{
		{Summary: "first", Chunks: []string{"x"}},
		{Summary: "second", Chunks: []string{"y"}},
	})
	assert.Less(t, strings.Index(got, "#1 first"), strings.Index(got, "#2 second"))
}

func TestServiceDegradesOnError(t *testing.T) {
	svc := NewService(&fakeRetriever{err: errors.New("index offline")}, zerolog.Nop())

	frags := svc.Retrieve(context.Background(), "query", 0.4, 5)
	assert.Nil(t, frags)

	frags, formatted := svc.RetrieveAndFormat(context.Background(), "query", 0.4, 5)
	assert.Nil(t, frags)
	assert.Equal(t, "", formatted)
}

func TestServiceNilRetriever(t *testing.T) {
	svc := NewService(nil, zerolog.Nop())
	assert.Nil(t, svc.Retrieve(context.Background(), "query", 0.4, 5))
}

func TestServicePassesFragmentsThrough(t *testing.T) {
	want := []model.Fragment{{Summary: "S", Chunks: []string{"a"}}}
	svc := NewService(&fakeRetriever{fragments: want}, zerolog.Nop())

	frags, formatted := svc.RetrieveAndFormat(context.Background(), "query", 0.4, 5)
	assert.Equal(t, want, frags)
	assert.Contains(t, formatted, "#1 S\n")
}
