// Package sqlite implements store.Store on SQLite (modernc driver) for
// single-instance deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/store"
)

// Open opens (or creates) a SQLite database at the given path with WAL enabled.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a SQLite store backed by database/sql.
func NewWithDB(db *sql.DB) store.Store {
	return &sqStore{db: db, ledgerLocks: make(map[int64]*sync.Mutex)}
}

// Bootstrap creates the schema when it does not exist yet.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

const ddl = `
CREATE TABLE IF NOT EXISTS anonymous_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    utln_hash     TEXT UNIQUE NOT NULL,
    anonymous_id  TEXT UNIQUE NOT NULL,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_active   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS conversations (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id  TEXT UNIQUE NOT NULL,
    user_id          INTEGER NOT NULL REFERENCES anonymous_users(id),
    platform         TEXT NOT NULL DEFAULT 'web',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_message_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    message_count    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id   INTEGER NOT NULL REFERENCES conversations(id),
    message_type      TEXT NOT NULL,
    content           TEXT NOT NULL,
    rag_context       TEXT,
    model_used        TEXT,
    temperature       REAL,
    response_time_ms  INTEGER,
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);
CREATE TABLE IF NOT EXISTS user_health_points (
    user_id              INTEGER PRIMARY KEY REFERENCES anonymous_users(id),
    current_points       INTEGER NOT NULL,
    max_points           INTEGER NOT NULL,
    last_query_at        TIMESTAMP,
    last_regeneration_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type sqStore struct {
	db *sql.DB

	// SQLite is not shared between processes here, so per-user in-process
	// mutexes are sufficient to serialize ledger read-modify-writes.
	ledgerMu    sync.Mutex
	ledgerLocks map[int64]*sync.Mutex
}

func (s *sqStore) Users() store.Users                 { return &sqUsers{db: s.db} }
func (s *sqStore) Conversations() store.Conversations { return &sqConvs{db: s.db} }
func (s *sqStore) Messages() store.Messages           { return &sqMsgs{db: s.db} }
func (s *sqStore) HealthPoints() store.HealthPoints   { return &sqLedger{p: s} }

func (s *sqStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqStore) Analytics(ctx context.Context) (*model.Analytics, error) {
	var out model.Analytics
	row := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM anonymous_users),
            (SELECT COUNT(*) FROM conversations),
            (SELECT COUNT(*) FROM messages),
            (SELECT COUNT(*) FROM anonymous_users WHERE last_active >= date('now')),
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

type sqUsers struct{ db *sql.DB }

func (u *sqUsers) GetOrCreate(ctx context.Context, utlnHash string) (*model.AnonymousUser, bool, error) {
	now := time.Now().UTC()

	var out model.AnonymousUser
	var last time.Time
	row := u.db.QueryRowContext(ctx, `
        SELECT id, utln_hash, anonymous_id, created_at, last_active
        FROM anonymous_users WHERE utln_hash = ?
    `, utlnHash)
	err := row.Scan(&out.ID, &out.UTLNHash, &out.AnonymousID, &out.CreatedAt, &last)
	if err == nil {
		if _, err := u.db.ExecContext(ctx,
			`UPDATE anonymous_users SET last_active = ? WHERE id = ?`, now, out.ID); err != nil {
			return nil, false, err
		}
		out.LastActiveAt = &now
		return &out, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	for attempt := 0; attempt < 5; attempt++ {
		anonID, idErr := identity.NewAnonymousID()
		if idErr != nil {
			return nil, false, idErr
		}
		res, err := u.db.ExecContext(ctx, `
            INSERT OR IGNORE INTO anonymous_users (utln_hash, anonymous_id, created_at, last_active)
            VALUES (?, ?, ?, ?)
        `, utlnHash, anonID, now, now)
		if err != nil {
			return nil, false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, false, err
		}
		out = model.AnonymousUser{
			ID:           id,
			UTLNHash:     utlnHash,
			AnonymousID:  anonID,
			CreatedAt:    now,
			LastActiveAt: &now,
		}
		return &out, true, nil
	}
	return nil, false, fmt.Errorf("could not allocate a unique anonymous id")
}

func (u *sqUsers) ConversationCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := u.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// --- Conversations ---

type sqConvs struct{ db *sql.DB }

func (c *sqConvs) GetOrCreate(ctx context.Context, conversationID string, userID int64, platform string) (*model.Conversation, error) {
	now := time.Now().UTC()
	if _, err := c.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO conversations (conversation_id, user_id, platform, created_at, last_message_at)
        VALUES (?, ?, ?, ?, ?)
    `, conversationID, userID, platform, now, now); err != nil {
		return nil, err
	}

	var out model.Conversation
	row := c.db.QueryRowContext(ctx, `
        SELECT id, conversation_id, user_id, platform, created_at, last_message_at, message_count
        FROM conversations WHERE conversation_id = ?
    `, conversationID)
	if err := row.Scan(&out.ID, &out.ConversationID, &out.UserID, &out.Platform,
		&out.CreatedAt, &out.LastMessageAt, &out.MessageCount); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *sqConvs) TouchMessage(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations
        SET last_message_at = ?, message_count = message_count + 1
        WHERE id = ?
    `, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Messages ---

type sqMsgs struct{ db *sql.DB }

func (m *sqMsgs) Create(ctx context.Context, msg *model.Message) error {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
        INSERT INTO messages (conversation_id, message_type, content, rag_context, model_used, temperature, response_time_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, msg.ConversationID, msg.Type, msg.Content, msg.RAGContext, msg.Model, msg.Temperature, msg.ResponseTimeMs, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// --- Health points ledger ---

type sqLedger struct{ p *sqStore }

func (l *sqLedger) lockFor(userID int64) *sync.Mutex {
	l.p.ledgerMu.Lock()
	defer l.p.ledgerMu.Unlock()
	mu, ok := l.p.ledgerLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.p.ledgerLocks[userID] = mu
	}
	return mu
}

func (l *sqLedger) Update(ctx context.Context, userID int64, maxPoints int, fn func(*model.HealthPoints) error) (*model.HealthPoints, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	db := l.p.db
	if _, err := db.ExecContext(ctx, `
        INSERT OR IGNORE INTO user_health_points (user_id, current_points, max_points, last_regeneration_at)
        VALUES (?, ?, ?, ?)
    `, userID, maxPoints, maxPoints, time.Now().UTC()); err != nil {
		return nil, err
	}

	var hp model.HealthPoints
	var lastQuery sql.NullTime
	row := db.QueryRowContext(ctx, `
        SELECT user_id, current_points, max_points, last_query_at, last_regeneration_at
        FROM user_health_points WHERE user_id = ?
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

	if _, err := db.ExecContext(ctx, `
        UPDATE user_health_points
        SET current_points = ?, max_points = ?, last_query_at = ?, last_regeneration_at = ?
        WHERE user_id = ?
    `, hp.Current, hp.Max, hp.LastQueryAt, hp.LastRegenAt, hp.UserID); err != nil {
		return nil, err
	}
	return &hp, nil
}
