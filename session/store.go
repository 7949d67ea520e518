package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"realtimeedit/go-server/apperr"
)

// PresenceWindow is the TTL on a presence record (spec §4.5/§6: "≈ 5
// minutes"). Leave does not schedule any cleanup of an emptied session;
// sessions are removed only by Expire, after ExpiryWindow of inactivity.
const PresenceWindow = 5 * time.Minute

// ExpiryWindow is how long a session may sit idle before Expire reclaims
// it (spec §4.5: "24 hours").
const ExpiryWindow = 24 * time.Hour

// CacheTTL is the in-process cache lifetime in front of a durable store
// (spec §4.5: "≈ 30 s").
const CacheTTL = 30 * time.Second

// Store is the session persistence interface from spec §4.5.
type Store interface {
	Create(sessionID string) (string, error)
	Get(sessionID string) (*State, error)
	Join(sessionID, userID string) (*State, error)
	Leave(sessionID, userID string) error
	UpdateContent(sessionID, content string) (bool, error)
	Active() (map[string]Summary, error)
	Expire() (int, error)
}

func generateSessionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Wrap(apperr.Internal, "generate session id", err)
	}
	return fmt.Sprintf("sess_%s", hex.EncodeToString(b)), nil
}

// MemoryStore is a process-local Store used by tests and single-process
// deployments, grounded on the teacher's RoomService but without the
// Postgres/Redis round trip.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*State
	presence *presenceTable
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*State),
		presence: newPresenceTable(),
	}
}

func (s *MemoryStore) Create(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		id, err := generateSessionID()
		if err != nil {
			return "", err
		}
		sessionID = id
	}
	if _, ok := s.sessions[sessionID]; ok {
		return sessionID, nil
	}

	now := time.Now()
	s.sessions[sessionID] = &State{
		SessionID:       sessionID,
		Content:         "",
		Users:           make(map[string]bool),
		CreatedAt:       now,
		LastActivity:    now,
		Version:         0,
		ContentChecksum: checksum(""),
		Metadata:        make(map[string]string),
	}
	return sessionID, nil
}

func (s *MemoryStore) Get(sessionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := cloneState(st)
	out.Users = s.presence.activeUsers(sessionID, PresenceWindow)
	return out, nil
}

func (s *MemoryStore) Join(sessionID, userID string) (*State, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		st = &State{
			SessionID:       sessionID,
			Content:         "",
			Users:           make(map[string]bool),
			CreatedAt:       now,
			LastActivity:    now,
			ContentChecksum: checksum(""),
			Metadata:        make(map[string]string),
		}
		s.sessions[sessionID] = st
	}
	st.Users[userID] = true
	st.touch()
	out := cloneState(st)
	s.mu.Unlock()

	s.presence.touch(sessionID, userID)
	out.Users = s.presence.activeUsers(sessionID, PresenceWindow)
	return out, nil
}

func (s *MemoryStore) Leave(sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence.remove(sessionID, userID)
	if st, ok := s.sessions[sessionID]; ok {
		delete(st.Users, userID)
		st.touch()
	}
	return nil
}

func (s *MemoryStore) UpdateContent(sessionID, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	st.Content = content
	st.Version++
	st.OperationCount++
	st.ContentChecksum = checksum(content)
	st.touch()
	return true, nil
}

func (s *MemoryStore) Active() (map[string]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Summary, len(s.sessions))
	for id, st := range s.sessions {
		out[id] = st.summary()
	}
	return out, nil
}

func (s *MemoryStore) Expire() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence.sweep(PresenceWindow)

	cutoff := time.Now().Add(-ExpiryWindow)
	removed := 0
	for id, st := range s.sessions {
		if st.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
