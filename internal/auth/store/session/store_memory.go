package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paybook/internal/auth/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in a map guarded by a mutex. Execute
// holds the write lock for the whole validate+mutate cycle.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %w", sentinel.ErrConflict)
	}
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	clone := *session
	return &clone, nil
}

// Execute loads the session, runs validate and, when it passes, applies
// mutate and stores the result.
func (s *InMemorySessionStore) Execute(_ context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	working := *current
	if validate != nil {
		if err := validate(&working); err != nil {
			return nil, err
		}
	}
	mutate(&working)
	s.sessions[sessionID] = &working
	result := working
	return &result, nil
}

func (s *InMemorySessionStore) RevokeSessionIfActive(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return s.Execute(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.SessionStatusRevoked {
			return ErrSessionRevoked
		}
		return nil
	}, func(session *models.Session) {
		session.Revoke(now)
	})
}
