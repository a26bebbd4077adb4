package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/floratech/rose-counter/internal/shared"
)

const cleanupInterval = time.Minute

// MemorySessionStore is the single-worker backend: a process-local map
// with the same TTL and serialization semantics as the Redis store.
// Sessions are stored marshaled so Get always exercises the same set↔list
// round trip a networked store would.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &MemorySessionStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemorySessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemorySessionStore) removeExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}

func (s *MemorySessionStore) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *MemorySessionStore) Create(ctx context.Context, sess *Session) error {
	return s.Put(ctx, sess)
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		if ok {
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
		}
		return nil, shared.ErrSessionNotFound
	}

	var sess Session
	if err := json.Unmarshal(entry.data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, shared.ErrSerialization)
	}
	if sess.UniqueRoses == nil {
		sess.UniqueRoses = make(RoseSet)
	}
	return &sess, nil
}

func (s *MemorySessionStore) Put(_ context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, shared.ErrSerialization)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	return ok && s.now().Before(entry.expiresAt), nil
}

func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}
