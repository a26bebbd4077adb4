package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/floratech/rose-counter/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	persistentDataKey = "persistent_data"
	sessionNumberKey  = "next_session_number"
	lastSessionIDKey  = "last_session_id"

	// foldAttempts bounds the optimistic-retry loop on the persistent
	// blob. Losing a stopped session's count is not acceptable, so the
	// caller sees the failure after the budget is spent.
	foldAttempts = 3
)

// HistoryEntry is the terminal record of one stopped session.
type HistoryEntry struct {
	SessionID       string    `json:"session_id"`
	SessionNumber   int64     `json:"session_number"`
	UniqueRoses     int64     `json:"session_unique_roses"`
	DurationSeconds float64   `json:"duration"`
	AverageFPS      float64   `json:"average_fps"`
	TotalFrames     int64     `json:"total_frames_processed"`
	EndedAt         time.Time `json:"end_time"`
}

// PersistentData survives across sessions and workers. The cumulative
// count only grows, and only through FoldSession.
type PersistentData struct {
	CumulativeSessionCount int64          `json:"cumulative_session_count"`
	NextSessionNumber      int64          `json:"next_session_number"`
	SessionHistory         []HistoryEntry `json:"session_history"`
	LastSessionID          string         `json:"last_session_id,omitempty"`
}

func defaultPersistentData() *PersistentData {
	return &PersistentData{
		NextSessionNumber: 1,
		SessionHistory:    []HistoryEntry{},
	}
}

// CounterStore holds the cross-session state. NextSessionNumber and
// FoldSession must be atomic: concurrent session starts never collide on
// a number, and concurrent stops never lose a cumulative increment.
type CounterStore interface {
	Data(ctx context.Context) (*PersistentData, error)
	SetData(ctx context.Context, data *PersistentData) error
	NextSessionNumber(ctx context.Context) (int64, error)
	FoldSession(ctx context.Context, entry HistoryEntry) (int64, error)
	SetLastSessionID(ctx context.Context, id string) error
	LastSessionID(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
}

type RedisCounterStore struct {
	redis *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{redis: client}
}

func (s *RedisCounterStore) Data(ctx context.Context) (*PersistentData, error) {
	data, err := s.getBlob(ctx, s.redis)
	if err != nil {
		return nil, err
	}

	// The dedicated INCR key is the authoritative sequence; the blob
	// field only mirrors it for readers.
	raw, err := s.redis.Get(ctx, sessionNumberKey).Result()
	if err == nil {
		if n, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			data.NextSessionNumber = n + 1
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get session number: %w", err)
	}

	return data, nil
}

// getBlob reads and decodes the persistent blob through any go-redis
// command interface (plain client or a transaction).
func (s *RedisCounterStore) getBlob(ctx context.Context, c redis.Cmdable) (*PersistentData, error) {
	raw, err := c.Get(ctx, persistentDataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return defaultPersistentData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get persistent data: %w", err)
	}

	var data PersistentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode persistent data: %w", shared.ErrSerialization)
	}
	if data.SessionHistory == nil {
		data.SessionHistory = []HistoryEntry{}
	}
	return &data, nil
}

func (s *RedisCounterStore) SetData(ctx context.Context, data *PersistentData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode persistent data: %w", shared.ErrSerialization)
	}
	return s.redis.Set(ctx, persistentDataKey, raw, 0).Err()
}

func (s *RedisCounterStore) NextSessionNumber(ctx context.Context) (int64, error) {
	return s.redis.Incr(ctx, sessionNumberKey).Result()
}

// FoldSession merges a stopped session's unique count and history entry
// into the persistent blob under an optimistic WATCH transaction, so two
// workers stopping different sessions never lose an increment.
func (s *RedisCounterStore) FoldSession(ctx context.Context, entry HistoryEntry) (int64, error) {
	var cumulative int64

	fold := func(tx *redis.Tx) error {
		data, err := s.getBlob(ctx, tx)
		if err != nil {
			return err
		}

		data.CumulativeSessionCount += entry.UniqueRoses
		data.SessionHistory = append(data.SessionHistory, entry)
		cumulative = data.CumulativeSessionCount

		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode persistent data: %w", shared.ErrSerialization)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, persistentDataKey, raw, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < foldAttempts; attempt++ {
		err := s.redis.Watch(ctx, fold, persistentDataKey)
		if err == nil {
			return cumulative, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("fold session %s: contention after %d attempts: %w",
		entry.SessionID, foldAttempts, shared.ErrStoreUnavailable)
}

func (s *RedisCounterStore) SetLastSessionID(ctx context.Context, id string) error {
	return s.redis.Set(ctx, lastSessionIDKey, id, 0).Err()
}

func (s *RedisCounterStore) LastSessionID(ctx context.Context) (string, error) {
	id, err := s.redis.Get(ctx, lastSessionIDKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
