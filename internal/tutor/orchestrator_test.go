package tutor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/llm"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/quality"
	"github.com/cs15tutor/engine/internal/rag"
	"github.com/cs15tutor/engine/internal/store/memory"
	"github.com/cs15tutor/engine/internal/tutor"
)

type fakeRetriever struct {
	fragments []model.Fragment
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, threshold float64, k int) ([]model.Fragment, error) {
	return f.fragments, nil
}

func newOrchestrator(gen llm.Generator, checkGen llm.Generator, frags []model.Fragment) *tutor.Orchestrator {
	log := zerolog.Nop()
	ragSvc := rag.NewService(&fakeRetriever{fragments: frags}, log)
	checker := quality.NewChecker(checkGen, log)
	return tutor.NewOrchestrator(gen, ragSvc, checker, memory.New(), tutor.Options{
		Model:            "fake-model",
		Temperature:      0.5,
		RAGThreshold:     0.4,
		RAGK:             5,
		QualityThreshold: 7,
		MaxAttempts:      3,
	}, log)
}

func testUser() *model.AnonymousUser {
	return &model.AnonymousUser{ID: 1, UTLNHash: identity.Hash("jdoe01"), AnonymousID: "abcdef01"}
}

func TestQualityLoopExhaustionReturnsLastResponse(t *testing.T) {
	gen := llm.NewFake(
		llm.FakeStep{Response: "first draft"},
		llm.FakeStep{Response: "second draft"},
		llm.FakeStep{Response: "third draft"},
	)
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 1, "feedback": "full code"}`})

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "write my homework",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Equal(t, "third draft", result.Response)
	assert.Equal(t, 3, gen.CallCount())
	assert.Equal(t, 3, checkGen.CallCount())
}

func TestBoundaryScoreAcceptedFirstAttempt(t *testing.T) {
	gen := llm.NewFake(llm.FakeStep{Response: "a gentle hint"})
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 7, "feedback": "minor issues"}`})

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "how do linked lists work?",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Equal(t, "a gentle hint", result.Response)
	assert.Equal(t, 1, gen.CallCount())
	assert.Equal(t, 1, checkGen.CallCount())
}

func TestRegenerationUsesEnhancementPrompt(t *testing.T) {
	gen := llm.NewFake(
		llm.FakeStep{Response: "bad draft"},
		llm.FakeStep{Response: "good draft"},
	)
	checkGen := llm.NewFake(
		llm.FakeStep{Response: `{"score": 2, "feedback": "contains pseudocode"}`},
		llm.FakeStep{Response: `{"score": 9, "feedback": "clean"}`},
	)

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "explain merge sort",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Equal(t, "good draft", result.Response)
	require.Equal(t, 2, gen.CallCount())

	// The second generation call carries the rewrite instruction, not the
	// original query.
	second := gen.Calls()[1]
	lastMsg := second.Messages[len(second.Messages)-1].Content
	assert.Contains(t, lastMsg, "bad draft")
	assert.Contains(t, lastMsg, "contains pseudocode")
}

func TestGenerationErrorYieldsApology(t *testing.T) {
	gen := llm.NewFake(llm.FakeStep{Err: errors.New("connection refused")})
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 10, "feedback": ""}`})

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "hello",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Contains(t, result.Response, "I apologize")
	assert.Equal(t, 1, gen.CallCount())
	// No quality check runs on the apology text.
	assert.Equal(t, 0, checkGen.CallCount())
}

func TestRegenerationErrorYieldsApology(t *testing.T) {
	gen := llm.NewFake(
		llm.FakeStep{Response: "bad draft"},
		llm.FakeStep{Err: errors.New("timeout")},
	)
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 1, "feedback": "bad"}`})

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "hello",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Contains(t, result.Response, "I apologize")
	assert.Equal(t, 2, gen.CallCount())
}

func TestProcessQueryCombinesAccumulatedContext(t *testing.T) {
	gen := llm.NewFake(llm.FakeStep{Response: "answer"})
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 10, "feedback": ""}`})
	frags := []model.Fragment{{Summary: "S", Chunks: []string{"chunk"}}}

	orch := newOrchestrator(gen, checkGen, frags)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:            "what is next on the syllabus?",
		ConversationID:     "conv-1",
		User:               testUser(),
		Platform:           model.PlatformWeb,
		AccumulatedContext: "earlier context",
	})

	assert.Contains(t, result.RAGContext, "#1 S")
	assert.True(t, result.Metadata.RAGContextUsed)
	assert.Equal(t, []string{"rag_retrieval", "quality_checked_generation"}, result.Metadata.ProcessingStages)

	// The generation query carries both the accumulated and the fresh context.
	call := gen.Calls()[0]
	lastMsg := call.Messages[len(call.Messages)-1].Content
	assert.Contains(t, lastMsg, "student query: what is next on the syllabus?")
	assert.Contains(t, lastMsg, "earlier context")
	assert.Contains(t, lastMsg, "#1.1 chunk")
}

func TestProcessQueryNoContext(t *testing.T) {
	gen := llm.NewFake(llm.FakeStep{Response: "answer"})
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 10, "feedback": ""}`})

	orch := newOrchestrator(gen, checkGen, nil)
	result := orch.ProcessQuery(context.Background(), tutor.ProcessRequest{
		Message:        "hi",
		ConversationID: "conv-1",
		User:           testUser(),
		Platform:       model.PlatformWeb,
	})

	assert.Equal(t, "", result.RAGContext)
	assert.False(t, result.Metadata.RAGContextUsed)
}

func TestLogInteraction(t *testing.T) {
	gen := llm.NewFake(llm.FakeStep{Response: "answer"})
	checkGen := llm.NewFake(llm.FakeStep{Response: `{"score": 10, "feedback": ""}`})

	log := zerolog.Nop()
	st := memory.New()
	orch := tutor.NewOrchestrator(gen, rag.NewService(nil, log), quality.NewChecker(checkGen, log), st, tutor.Options{
		Model:       "fake-model",
		Temperature: 0.5,
		MaxAttempts: 3,
	}, log)

	hash := identity.Hash("jdoe01")
	summary := orch.LogInteraction(context.Background(), hash, "conv-1", "question", "answer", model.PlatformWeb, "some context", 1200)

	assert.NotEmpty(t, summary.AnonymousID)
	assert.Equal(t, "conv-1", summary.ConversationID)
	assert.True(t, summary.IsNewConversation)
	assert.Equal(t, int64(1), summary.TotalConversations)

	// Second exchange in the same conversation is no longer new.
	summary = orch.LogInteraction(context.Background(), hash, "conv-1", "followup", "answer 2", model.PlatformWeb, "", 800)
	assert.False(t, summary.IsNewConversation)

	a, err := st.Analytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.TotalUsers)
	assert.Equal(t, int64(1), a.TotalConversations)
	assert.Equal(t, int64(4), a.TotalMessages)

	// Each exchange counts two messages on the conversation itself.
	user, _, err := st.Users().GetOrCreate(context.Background(), hash)
	require.NoError(t, err)
	conv, err := st.Conversations().GetOrCreate(context.Background(), "conv-1", user.ID, model.PlatformWeb)
	require.NoError(t, err)
	assert.Equal(t, 4, conv.MessageCount)
}
