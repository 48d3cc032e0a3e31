package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"basegraph.app/digest/internal/model"
)

// memorySessionStore keeps sessions in process. It serves the CLI and
// single-replica servers without Redis.
type memorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) SessionStore {
	return &memorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

func (s *memorySessionStore) Create(_ context.Context, sess *model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("creating session %s: %w", sess.ID, ErrConflict)
	}
	s.sessions[sess.ID] = memoryEntry{raw: raw, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *memorySessionStore) Advance(_ context.Context, sess *model.Session, prevSeq int) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.getLocked(sess.ID)
	if err != nil {
		return fmt.Errorf("advancing session %s: %w", sess.ID, err)
	}
	if current.Seq != prevSeq {
		return fmt.Errorf("advancing session %s: %w", sess.ID, ErrConflict)
	}
	s.sessions[sess.ID] = memoryEntry{raw: raw, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *memorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// getLocked decodes a fresh copy so callers never share state.
func (s *memorySessionStore) getLocked(id string) (*model.Session, error) {
	entry, ok := s.sessions[id]
	if !ok || !s.now().Before(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	var sess model.Session
	if err := json.Unmarshal(entry.raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *memorySessionStore) evictLocked() {
	now := s.now()
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
