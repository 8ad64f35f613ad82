package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// Session is one explicit learning window: messages are accumulated, then
// either learned from on completion or discarded on abort.
type Session struct {
	ID        string
	PersonaID string
	StartedAt time.Time

	messages []message.FilteredMessage
}

// SessionManager tracks active sessions and runs the learning cycle when
// one completes. Aborted sessions leave no trace.
type SessionManager struct {
	strategy Strategy

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager executing cycles through the given
// strategy.
func NewSessionManager(strategy Strategy) *SessionManager {
	return &SessionManager{
		strategy: strategy,
		sessions: make(map[string]*Session),
	}
}

// StartSession opens a new session for a persona and returns its id.
func (m *SessionManager) StartSession(personaID string) string {
	session := &Session{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session.ID
}

// AddMessage appends a filtered message to an active session.
func (m *SessionManager) AddMessage(sessionID string, msg message.FilteredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}

	session.messages = append(session.messages, msg)

	return nil
}

// CompleteSession closes the session and runs the learning cycle over its
// accumulated messages. The session is removed whether or not the cycle
// succeeds.
func (m *SessionManager) CompleteSession(ctx context.Context, sessionID string) (message.AnalysisResult, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return message.AnalysisResult{}, fmt.Errorf("unknown session %q", sessionID)
	}

	return m.strategy.ExecuteLearningCycle(ctx, session.messages), nil
}

// AbortSession discards a session without any learning side effects. It
// reports whether the session existed.
func (m *SessionManager) AbortSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)

	return ok
}

// ActiveSessions reports the number of open sessions.
func (m *SessionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}
