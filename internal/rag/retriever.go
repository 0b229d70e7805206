// Package rag retrieves and formats supporting course context.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/model"
)

// Retriever returns ranked fragments for a query. Ranking is the
// collaborator's own; this package treats it as opaque.
type Retriever interface {
	Retrieve(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, error)
}

// Service wraps a Retriever with best-effort semantics: retrieval
// failures degrade to an empty result and are logged, never propagated —
// a missing context source must not abort answer generation.
type Service struct {
	retriever Retriever
	log       zerolog.Logger
}

func NewService(r Retriever, log zerolog.Logger) *Service {
	return &Service{retriever: r, log: log}
}

// Retrieve returns fragments for the query, or nil when the retriever is
// unconfigured or failing.
func (s *Service) Retrieve(ctx context.Context, query string, threshold float64, k int) []model.Fragment {
	if s.retriever == nil {
		return nil
	}
	frags, err := s.retriever.Retrieve(ctx, query, threshold, k)
	if err != nil {
		s.log.Warn().Err(err).Str("query", truncate(query, 50)).Msg("context retrieval failed, proceeding without it")
		return nil
	}
	s.log.Debug().Int("fragments", len(frags)).Msg("context retrieved")
	return frags
}

// RetrieveAndFormat is a convenience pairing of Retrieve and Format.
func (s *Service) RetrieveAndFormat(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, string) {
	frags := s.Retrieve(ctx, query, threshold, k)
	return frags, Format(frags)
}

const formatPreamble = "The following is additional context that may be helpful in answering the user's query.\n\n"

// Format renders fragments as a numbered outline: "#1 Summary" with
// "#1.1", "#1.2" sub-entries per chunk. Empty input yields an empty
// string with no preamble.
func Format(fragments []model.Fragment) string {
	if len(fragments) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(formatPreamble)
	for i, f := range fragments {
		fmt.Fprintf(&sb, "#%d %s\n", i+1, f.Summary)
		for j, chunk := range f.Chunks {
			fmt.Fprintf(&sb, "#%d.%d %s\n", i+1, j+1, chunk)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
