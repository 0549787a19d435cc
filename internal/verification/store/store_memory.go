package store

import (
	"context"
	"sync"
	"time"

	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	"webkart/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map. Sessions are cloned on the way in
// and out so callers never alias stored state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

// Update commits session if its Version matches the stored one, then bumps
// the version on both the stored copy and the argument.
func (s *InMemoryStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != session.Version {
		return sentinel.ErrConflict
	}
	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}

// DeleteIdle removes non-complete sessions last updated before cutoff.
func (s *InMemoryStore) DeleteIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, session := range s.sessions {
		if isIdle(session, cutoff) {
			delete(s.sessions, key)
			purged++
		}
	}
	return purged, nil
}

func isIdle(session *models.Session, cutoff time.Time) bool {
	return !session.Step.Terminal() && session.LastUpdated.Before(cutoff)
}
