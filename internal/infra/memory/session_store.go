package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"codequiz/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	answers  map[string][]domain.SubmittedAnswer
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		answers:  make(map[string][]domain.SubmittedAnswer),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// ListSessions returns matching sessions, most recently started first.
func (s *SessionStore) ListSessions(_ context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	s.mu.RLock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.Matches(session) {
			out = append(out, cloneSession(session))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return domain.NewerFirst(out[i], out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *SessionStore) UpdateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) SaveAnswer(_ context.Context, sessionID string, answer domain.SubmittedAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	list := s.answers[sessionID]
	for i := range list {
		if list[i].QuestionID == answer.QuestionID {
			list[i] = answer
			return nil
		}
	}
	s.answers[sessionID] = append(list, answer)
	return nil
}

func (s *SessionStore) ListAnswers(_ context.Context, sessionID string) ([]domain.SubmittedAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return append([]domain.SubmittedAnswer(nil), s.answers[sessionID]...), nil
}

func cloneSession(s domain.Session) domain.Session {
	s.Questions = append([]domain.Question(nil), s.Questions...)
	if s.TimeEnded != nil {
		t := *s.TimeEnded
		s.TimeEnded = &t
	}
	return s
}
