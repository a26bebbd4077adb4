package tracking

import (
	"context"
	"sync"
)

// MemoryCounterStore is the single-worker CounterStore. A mutex gives the
// same atomicity the Redis backend gets from INCR and WATCH.
type MemoryCounterStore struct {
	mu         sync.Mutex
	data       PersistentData
	lastNumber int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{data: *defaultPersistentData()}
}

func (s *MemoryCounterStore) Data(context.Context) (*PersistentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.data
	out.NextSessionNumber = s.lastNumber + 1
	out.SessionHistory = append([]HistoryEntry(nil), s.data.SessionHistory...)
	return &out, nil
}

func (s *MemoryCounterStore) SetData(_ context.Context, data *PersistentData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = *data
	s.data.SessionHistory = append([]HistoryEntry(nil), data.SessionHistory...)
	if data.NextSessionNumber > s.lastNumber+1 {
		s.lastNumber = data.NextSessionNumber - 1
	}
	return nil
}

func (s *MemoryCounterStore) NextSessionNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastNumber++
	return s.lastNumber, nil
}

func (s *MemoryCounterStore) FoldSession(_ context.Context, entry HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.CumulativeSessionCount += entry.UniqueRoses
	s.data.SessionHistory = append(s.data.SessionHistory, entry)
	return s.data.CumulativeSessionCount, nil
}

func (s *MemoryCounterStore) SetLastSessionID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.LastSessionID = id
	return nil
}

func (s *MemoryCounterStore) LastSessionID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data.LastSessionID, nil
}

func (s *MemoryCounterStore) Ping(context.Context) error {
	return nil
}
