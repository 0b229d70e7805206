// Package session keeps per-conversation in-process state: chat history
// and the accumulated retrieval context that stays attached to the
// conversation for its lifetime. State lives in process memory only and
// is rebuilt from scratch after a restart.
package session

import (
	"sync"

	"github.com/cs15tutor/engine/internal/llm"
)

// Session is the mutable state of one conversation. All access goes
// through Do, which holds the per-conversation lock.
type Session struct {
	mu sync.Mutex

	history []llm.ChatMessage
	context string

	// maxContextBytes caps the accumulated context buffer; 0 means
	// unlimited. Appends that would exceed the cap are dropped.
	maxContextBytes int
}

// Do runs fn while holding this conversation's lock. Concurrent requests
// for the same conversation serialize here; different conversations do
// not contend.
func (s *Session) Do(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// History returns the recorded turns. Callers must hold the lock via Do.
func (s *Session) History() []llm.ChatMessage { return s.history }

// AppendTurn records a completed user/assistant exchange.
func (s *Session) AppendTurn(query, response string) {
	s.history = append(s.history,
		llm.ChatMessage{Role: llm.RoleUser, Content: query},
		llm.ChatMessage{Role: llm.RoleAssistant, Content: response},
	)
}

// Context returns the accumulated retrieval context buffer.
func (s *Session) Context() string { return s.context }

// AppendContext folds newly retrieved context into the buffer. Empty
// input is a no-op, as is any append that would push the buffer past
// the configured cap. Entries are separated by a blank line.
func (s *Session) AppendContext(fragmentText string) {
	if fragmentText == "" {
		return
	}
	if s.context == "" {
		if s.maxContextBytes > 0 && len(fragmentText) > s.maxContextBytes {
			return
		}
		s.context = fragmentText
		return
	}
	if s.maxContextBytes > 0 && len(s.context)+2+len(fragmentText) > s.maxContextBytes {
		return
	}
	s.context = s.context + "\n\n" + fragmentText
}

// Materialize combines the base system prompt with the accumulated
// context. An empty buffer returns base unchanged.
func (s *Session) Materialize(base string) string {
	if s.context == "" {
		return base
	}
	return base + "\n\n" + s.context
}

// Store resolves conversation ids to sessions. The in-memory Map is the
// only implementation today; the interface leaves room for an external
// keyed store when the service runs multi-instance.
type Store interface {
	Get(conversationID string) *Session
}

// Map is a mutex-guarded in-memory Store.
type Map struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	maxContextBytes int
}

// NewMap builds an empty Store. maxContextBytes of 0 disables the cap.
func NewMap(maxContextBytes int) *Map {
	return &Map{
		sessions:        make(map[string]*Session),
		maxContextBytes: maxContextBytes,
	}
}

// Get returns the session for the conversation, creating it on first use.
func (m *Map) Get(conversationID string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[conversationID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conversationID]; ok {
		return s
	}
	s = &Session{maxContextBytes: m.maxContextBytes}
	m.sessions[conversationID] = s
	return s
}

// Len reports the number of live sessions.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
