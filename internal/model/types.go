package model

import "time"

// AnonymousUser maps a hashed login name to a human-opaque display identifier.
// The hash->AnonymousID mapping is unique and immutable once created.
type AnonymousUser struct {
	ID           int64      `json:"id"`
	UTLNHash     string     `json:"-"`
	AnonymousID  string     `json:"anonymousId"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

// Conversation tracks one chat thread for a user.
type Conversation struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         int64     `json:"userId"`
	Platform       string    `json:"platform"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	MessageCount   int       `json:"messageCount"`
}

// Message types stored in the interaction log.
const (
	MessageTypeQuery    = "query"
	MessageTypeResponse = "response"
)

// Platforms recognized by the service.
const (
	PlatformWeb    = "web"
	PlatformVSCode = "vscode"
)

// Message is an immutable record of one turn's content.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	RAGContext     *string   `json:"ragContext,omitempty"`
	Model          *string   `json:"model,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	ResponseTimeMs *int64    `json:"responseTimeMs,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// HealthPoints is the per-user query budget ledger row.
// Invariant: 0 <= Current <= Max. LastRegenAt only moves forward.
type HealthPoints struct {
	UserID      int64      `json:"userId"`
	Current     int        `json:"current"`
	Max         int        `json:"max"`
	LastQueryAt *time.Time `json:"lastQueryAt,omitempty"`
	LastRegenAt time.Time  `json:"lastRegenAt"`
}

// HealthStatus is the caller-facing view of the ledger.
type HealthStatus struct {
	Current               int  `json:"current_points"`
	Max                   int  `json:"max_points"`
	CanQuery              bool `json:"can_query"`
	SecondsUntilNextPoint int  `json:"time_until_next_regen"`
}

// Fragment is one retrieved, ranked unit of supporting context.
type Fragment struct {
	Summary string   `json:"doc_summary"`
	Chunks  []string `json:"chunks"`
}

// ProcessResult is the outcome of one orchestrated query.
type ProcessResult struct {
	Response       string         `json:"response"`
	RAGContext     string         `json:"rag_context"`
	ConversationID string         `json:"conversation_id"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Metadata       ResultMetadata `json:"metadata"`
}

// ResultMetadata describes how a response was produced.
type ResultMetadata struct {
	ProcessingStages []string `json:"processing_stages"`
	QualityChecked   bool     `json:"quality_checks_performed"`
	RAGContextUsed   bool     `json:"rag_context_used"`
	Model            string   `json:"model_used"`
	Temperature      float64  `json:"temperature"`
}

// Analytics summarizes overall system usage.
type Analytics struct {
	TotalUsers              int64   `json:"total_users"`
	TotalConversations      int64   `json:"total_conversations"`
	TotalMessages           int64   `json:"total_messages"`
	ActiveUsersToday        int64   `json:"active_users_today"`
	WebConversations        int64   `json:"web_conversations"`
	VSCodeConversations     int64   `json:"vscode_conversations"`
	AvgConversationsPerUser float64 `json:"average_conversations_per_user"`
	AvgMessagesPerConv      float64 `json:"average_messages_per_conversation"`
}
