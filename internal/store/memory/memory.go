// Package memory provides an in-process Store for tests and zero-config
// development. Data does not survive a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/store"
)

// New constructs an empty in-memory store.
func New() store.Store {
	return &memStore{
		usersByHash:  make(map[string]*model.AnonymousUser),
		usersByID:    make(map[int64]*model.AnonymousUser),
		convsByToken: make(map[string]*model.Conversation),
		convsByID:    make(map[int64]*model.Conversation),
		ledgers:      make(map[int64]*model.HealthPoints),
		ledgerLocks:  make(map[int64]*sync.Mutex),
		anonymousIDs: make(map[string]bool),
	}
}

type memStore struct {
	mu           sync.Mutex
	nextUserID   int64
	nextConvID   int64
	nextMsgID    int64
	usersByHash  map[string]*model.AnonymousUser
	usersByID    map[int64]*model.AnonymousUser
	convsByToken map[string]*model.Conversation
	convsByID    map[int64]*model.Conversation
	messages     []*model.Message
	anonymousIDs map[string]bool

	// Ledger rows get a striped mutex each so contention on one user's
	// budget never serializes the rest of the store.
	ledgerMu    sync.Mutex
	ledgers     map[int64]*model.HealthPoints
	ledgerLocks map[int64]*sync.Mutex
}

func (s *memStore) Users() store.Users                 { return (*memUsers)(s) }
func (s *memStore) Conversations() store.Conversations { return (*memConvs)(s) }
func (s *memStore) Messages() store.Messages           { return (*memMsgs)(s) }
func (s *memStore) HealthPoints() store.HealthPoints   { return (*memLedger)(s) }

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) Analytics(ctx context.Context) (*model.Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &model.Analytics{
		TotalUsers:         int64(len(s.usersByID)),
		TotalConversations: int64(len(s.convsByID)),
		TotalMessages:      int64(len(s.messages)),
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, u := range s.usersByID {
		if u.LastActiveAt != nil && !u.LastActiveAt.Before(today) {
			out.ActiveUsersToday++
		}
	}
	for _, c := range s.convsByID {
		switch c.Platform {
		case model.PlatformWeb:
			out.WebConversations++
		case model.PlatformVSCode:
			out.VSCodeConversations++
		}
	}
	if out.TotalUsers > 0 {
		out.AvgConversationsPerUser = float64(out.TotalConversations) / float64(out.TotalUsers)
	}
	if out.TotalConversations > 0 {
		out.AvgMessagesPerConv = float64(out.TotalMessages) / float64(out.TotalConversations)
	}
	return out, nil
}

// --- Users ---

type memUsers memStore

func (s *memUsers) GetOrCreate(ctx context.Context, utlnHash string) (*model.AnonymousUser, bool, error) {
	if strings.TrimSpace(utlnHash) == "" {
		return nil, false, model.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if u, ok := s.usersByHash[utlnHash]; ok {
		u.LastActiveAt = &now
		cp := *u
		return &cp, false, nil
	}

	var anonID string
	for {
		id, err := identity.NewAnonymousID()
		if err != nil {
			return nil, false, err
		}
		if !s.anonymousIDs[id] {
			anonID = id
			break
		}
	}

	s.nextUserID++
	u := &model.AnonymousUser{
		ID:           s.nextUserID,
		UTLNHash:     utlnHash,
		AnonymousID:  anonID,
		CreatedAt:    now,
		LastActiveAt: &now,
	}
	s.usersByHash[utlnHash] = u
	s.usersByID[u.ID] = u
	s.anonymousIDs[anonID] = true
	cp := *u
	return &cp, true, nil
}

func (s *memUsers) ConversationCount(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.convsByID {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

// --- Conversations ---

type memConvs memStore

func (s *memConvs) GetOrCreate(ctx context.Context, conversationID string, userID int64, platform string) (*model.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, model.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convsByToken[conversationID]; ok {
		cp := *c
		return &cp, nil
	}
	now := time.Now().UTC()
	s.nextConvID++
	c := &model.Conversation{
		ID:             s.nextConvID,
		ConversationID: conversationID,
		UserID:         userID,
		Platform:       platform,
		CreatedAt:      now,
		LastMessageAt:  now,
	}
	s.convsByToken[conversationID] = c
	s.convsByID[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memConvs) TouchMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convsByID[id]
	if !ok {
		return model.ErrNotFound
	}
	c.LastMessageAt = time.Now().UTC()
	c.MessageCount++
	return nil
}

// --- Messages ---

type memMsgs memStore

func (s *memMsgs) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	cp := *m
	cp.ID = s.nextMsgID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, &cp)
	m.ID = cp.ID
	m.CreatedAt = cp.CreatedAt
	return nil
}

// --- Health points ledger ---

type memLedger memStore

func (s *memLedger) lockFor(userID int64) *sync.Mutex {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	mu, ok := s.ledgerLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.ledgerLocks[userID] = mu
	}
	return mu
}

func (s *memLedger) Update(ctx context.Context, userID int64, maxPoints int, fn func(*model.HealthPoints) error) (*model.HealthPoints, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	s.ledgerMu.Lock()
	hp, ok := s.ledgers[userID]
	if !ok {
		hp = &model.HealthPoints{
			UserID:      userID,
			Current:     maxPoints,
			Max:         maxPoints,
			LastRegenAt: time.Now().UTC(),
		}
		s.ledgers[userID] = hp
	}
	s.ledgerMu.Unlock()

	if err := fn(hp); err != nil {
		return nil, err
	}
	cp := *hp
	return &cp, nil
}

// Seed installs a ledger row directly; test hook.
func Seed(s store.Store, hp model.HealthPoints) {
	ms, ok := s.(*memStore)
	if !ok {
		return
	}
	ms.ledgerMu.Lock()
	defer ms.ledgerMu.Unlock()
	cp := hp
	ms.ledgers[hp.UserID] = &cp
}
