package store

import (
	"context"

	"github.com/cs15tutor/engine/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite, memory).
type Store interface {
	Users() Users
	Conversations() Conversations
	Messages() Messages
	HealthPoints() HealthPoints

	Analytics(ctx context.Context) (*model.Analytics, error)
	Ping(ctx context.Context) error
}

type Users interface {
	// GetOrCreate looks up a user by login hash, creating one with a fresh
	// anonymous identifier when absent. Bumps LastActiveAt on every call.
	GetOrCreate(ctx context.Context, utlnHash string) (*model.AnonymousUser, bool, error)
	ConversationCount(ctx context.Context, userID int64) (int64, error)
}

type Conversations interface {
	GetOrCreate(ctx context.Context, conversationID string, userID int64, platform string) (*model.Conversation, error)
	// TouchMessage advances LastMessageAt and increments MessageCount.
	TouchMessage(ctx context.Context, id int64) error
}

type Messages interface {
	Create(ctx context.Context, m *model.Message) error
}

// HealthPoints is the rate-limit ledger. Update is the only mutation path:
// implementations run fn against the current row under per-user exclusion
// (row lock, transaction, or mutex), so a regenerate-then-decrement sequence
// is atomic with respect to concurrent requests from the same user.
// A missing row is created with maxPoints before fn runs.
type HealthPoints interface {
	Update(ctx context.Context, userID int64, maxPoints int, fn func(*model.HealthPoints) error) (*model.HealthPoints, error)
}
