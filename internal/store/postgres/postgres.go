// Package postgres implements store.Store on PostgreSQL via the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/store"
)

// Open opens a PostgreSQL connection and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

// Bootstrap creates the schema when it does not exist yet.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

const ddl = `
CREATE TABLE IF NOT EXISTS anonymous_users (
    id            BIGSERIAL PRIMARY KEY,
    utln_hash     VARCHAR(64) UNIQUE NOT NULL,
    anonymous_id  VARCHAR(16) UNIQUE NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_active   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS conversations (
    id               BIGSERIAL PRIMARY KEY,
    conversation_id  VARCHAR(64) UNIQUE NOT NULL,
    user_id          BIGINT NOT NULL REFERENCES anonymous_users(id),
    platform         VARCHAR(20) NOT NULL DEFAULT 'web',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_message_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    message_count    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
    id                BIGSERIAL PRIMARY KEY,
    conversation_id   BIGINT NOT NULL REFERENCES conversations(id),
    message_type      VARCHAR(20) NOT NULL,
    content           TEXT NOT NULL,
    rag_context       TEXT,
    model_used        VARCHAR(50),
    temperature       DOUBLE PRECISION,
    response_time_ms  BIGINT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);
CREATE TABLE IF NOT EXISTS user_health_points (
    user_id              BIGINT PRIMARY KEY REFERENCES anonymous_users(id),
    current_points       INTEGER NOT NULL,
    max_points           INTEGER NOT NULL,
    last_query_at        TIMESTAMPTZ,
    last_regeneration_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users                 { return &pgUsers{db: s.db} }
func (s *pgStore) Conversations() store.Conversations { return &pgConvs{db: s.db} }
func (s *pgStore) Messages() store.Messages           { return &pgMsgs{db: s.db} }
func (s *pgStore) HealthPoints() store.HealthPoints   { return &pgLedger{db: s.db} }

func (s *pgStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *pgStore) Analytics(ctx context.Context) (*model.Analytics, error) {
	var out model.Analytics
	row := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM anonymous_users),
            (SELECT COUNT(*) FROM conversations),
            (SELECT COUNT(*) FROM messages),
            (SELECT COUNT(*) FROM anonymous_users WHERE last_active >= date_trunc('day', now())),
            (SELECT COUNT(*) FROM conversations WHERE platform = 'web'),
            (SELECT COUNT(*) FROM conversations WHERE platform = 'vscode')
    `)
	if err := row.Scan(&out.TotalUsers, &out.TotalConversations, &out.TotalMessages,
		&out.ActiveUsersToday, &out.WebConversations, &out.VSCodeConversations); err != nil {
		return nil, err
	}
	if out.TotalUsers > 0 {
		out.AvgConversationsPerUser = float64(out.TotalConversations) / float64(out.TotalUsers)
	}
	if out.TotalConversations > 0 {
		out.AvgMessagesPerConv = float64(out.TotalMessages) / float64(out.TotalConversations)
	}
	return &out, nil
}

// --- Users ---

type pgUsers struct{ db *sql.DB }

func (u *pgUsers) GetOrCreate(ctx context.Context, utlnHash string) (*model.AnonymousUser, bool, error) {
	var out model.AnonymousUser
	var last time.Time
	row := u.db.QueryRowContext(ctx, `
        UPDATE anonymous_users SET last_active = now()
        WHERE utln_hash = $1
        RETURNING id, utln_hash, anonymous_id, created_at, last_active
    `, utlnHash)
	err := row.Scan(&out.ID, &out.UTLNHash, &out.AnonymousID, &out.CreatedAt, &last)
	if err == nil {
		out.LastActiveAt = &last
		return &out, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// New user: generate a display id, retrying on the unique constraint.
	for attempt := 0; attempt < 5; attempt++ {
		anonID, idErr := identity.NewAnonymousID()
		if idErr != nil {
			return nil, false, idErr
		}
		row := u.db.QueryRowContext(ctx, `
            INSERT INTO anonymous_users (utln_hash, anonymous_id)
            VALUES ($1, $2)
            ON CONFLICT (anonymous_id) DO NOTHING
            RETURNING id, utln_hash, anonymous_id, created_at, last_active
        `, utlnHash, anonID)
		err = row.Scan(&out.ID, &out.UTLNHash, &out.AnonymousID, &out.CreatedAt, &last)
		if err == nil {
			out.LastActiveAt = &last
			return &out, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("could not allocate a unique anonymous id")
}

func (u *pgUsers) ConversationCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := u.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// --- Conversations ---

type pgConvs struct{ db *sql.DB }

func (c *pgConvs) GetOrCreate(ctx context.Context, conversationID string, userID int64, platform string) (*model.Conversation, error) {
	var out model.Conversation
	row := c.db.QueryRowContext(ctx, `
        INSERT INTO conversations (conversation_id, user_id, platform)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
        RETURNING id, conversation_id, user_id, platform, created_at, last_message_at, message_count
    `, conversationID, userID, platform)
	if err := row.Scan(&out.ID, &out.ConversationID, &out.UserID, &out.Platform,
		&out.CreatedAt, &out.LastMessageAt, &out.MessageCount); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *pgConvs) TouchMessage(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations
        SET last_message_at = now(), message_count = message_count + 1
        WHERE id = $1
    `, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Messages ---

type pgMsgs struct{ db *sql.DB }

func (m *pgMsgs) Create(ctx context.Context, msg *model.Message) error {
	row := m.db.QueryRowContext(ctx, `
        INSERT INTO messages (conversation_id, message_type, content, rag_context, model_used, temperature, response_time_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at
    `, msg.ConversationID, msg.Type, msg.Content, msg.RAGContext, msg.Model, msg.Temperature, msg.ResponseTimeMs)
	return row.Scan(&msg.ID, &msg.CreatedAt)
}

// --- Health points ledger ---

type pgLedger struct{ db *sql.DB }

func (l *pgLedger) Update(ctx context.Context, userID int64, maxPoints int, fn func(*model.HealthPoints) error) (*model.HealthPoints, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Seed a full ledger on first access, then take the row lock. The lock
	// serializes concurrent regenerate-then-decrement sequences per user.
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO user_health_points (user_id, current_points, max_points)
        VALUES ($1, $2, $2)
        ON CONFLICT (user_id) DO NOTHING
    `, userID, maxPoints); err != nil {
		return nil, err
	}

	var hp model.HealthPoints
	var lastQuery sql.NullTime
	row := tx.QueryRowContext(ctx, `
        SELECT user_id, current_points, max_points, last_query_at, last_regeneration_at
        FROM user_health_points WHERE user_id = $1
        FOR UPDATE
    `, userID)
	if err := row.Scan(&hp.UserID, &hp.Current, &hp.Max, &lastQuery, &hp.LastRegenAt); err != nil {
		return nil, err
	}
	if lastQuery.Valid {
		t := lastQuery.Time
		hp.LastQueryAt = &t
	}

	if err := fn(&hp); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE user_health_points
        SET current_points = $2, max_points = $3, last_query_at = $4, last_regeneration_at = $5
        WHERE user_id = $1
    `, hp.UserID, hp.Current, hp.Max, hp.LastQueryAt, hp.LastRegenAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &hp, nil
}
