package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrInvalidRole  = errors.New("invalid turn role")
)

// Service keeps every user's turn history in memory for the process lifetime.
// It is safe for concurrent use across user ids; callers serialize exchanges of
// the same user with Lock.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Stats summarizes the store contents.
type Stats struct {
	Sessions int `json:"sessions"`
	Turns    int `json:"turns"`
}

// NewService bootstraps an empty in-memory session store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*chat.Session),
		locks:    make(map[string]*userLock),
	}
}

// Append records a turn at the end of the user's history, creating the
// session on first use.
func (s *Service) Append(userID string, role chat.Role, content string) (chat.Turn, error) {
	if userID == "" {
		return chat.Turn{}, ErrUserRequired
	}
	if !role.Valid() {
		return chat.Turn{}, ErrInvalidRole
	}

	now := time.Now().UTC()
	turn := chat.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		session = &chat.Session{
			UserID:    userID,
			Turns:     make([]chat.Turn, 0, 16),
			CreatedAt: now,
		}
		s.sessions[userID] = session
	}
	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = now
	return turn, nil
}

// History returns a copy of the user's turns in chronological order. Unknown
// users get an empty slice.
func (s *Service) History(userID string) []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	if !ok {
		return []chat.Turn{}
	}

	copied := make([]chat.Turn, len(session.Turns))
	copy(copied, session.Turns)
	return copied
}

// Reset empties the user's history but keeps the session itself. Resetting an
// unknown or empty session is a no-op.
func (s *Service) Reset(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return
	}
	session.Turns = session.Turns[:0:0]
	session.UpdatedAt = time.Now().UTC()
}

// Lock blocks until the caller holds the user's exchange lock and returns the
// matching unlock function. Lock entries are dropped once nobody holds or
// waits on them.
func (s *Service) Lock(userID string) (unlock func()) {
	s.locksMu.Lock()
	entry, ok := s.locks[userID]
	if !ok {
		entry = &userLock{}
		s.locks[userID] = entry
	}
	entry.refs++
	s.locksMu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			s.locksMu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(s.locks, userID)
			}
			s.locksMu.Unlock()
		})
	}
}

// Stats reports how many sessions and turns are held.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Sessions: len(s.sessions)}
	for _, session := range s.sessions {
		stats.Turns += len(session.Turns)
	}
	return stats
}
