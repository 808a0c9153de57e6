package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// DefaultRedisKey names the list holding the ledger snapshot.
const DefaultRedisKey = "marketpulse:ledger"

// RedisStore keeps the ledger snapshot as a Redis list, oldest id first.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

var _ ports.LedgerStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedis builds a client for addr. go-redis dials lazily, so nothing
// touches the network until the first command.
func OpenRedis(addr, password string, db int, key string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(client, key)
}

// Ping checks that the server answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Load returns the stored ids.
func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", s.key, err)
	}
	return ids, nil
}

// Save swaps the list contents inside MULTI/EXEC.
func (s *RedisStore) Save(ctx context.Context, ids []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(ids) > 0 {
			values := make([]interface{}, len(ids))
			for i, id := range ids {
				values[i] = id
			}
			pipe.RPush(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
