package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/floratech/rose-counter/internal/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is how long an idle session survives before the store
// reaps it. Every Put refreshes the deadline.
const DefaultSessionTTL = time.Hour

// SessionStore holds live session state. Both backends satisfy the same
// contract; the coordinator never branches on which one it was given.
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// RedisSessionStore keeps sessions in a shared Redis so any worker behind
// the load balancer can serve any frame. TTL is enforced server-side.
type RedisSessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{redis: client, ttl: ttl}
}

func (s *RedisSessionStore) Create(ctx context.Context, sess *Session) error {
	return s.Put(ctx, sess)
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, "session:"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupt data is a store failure, never a silent reset.
		return nil, fmt.Errorf("decode session %s: %w", id, shared.ErrSerialization)
	}
	if sess.UniqueRoses == nil {
		sess.UniqueRoses = make(RoseSet)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, shared.ErrSerialization)
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, s.ttl).Err()
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, "session:"+id).Err()
}

func (s *RedisSessionStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exists(ctx, "session:"+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
