package mirror

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores each document as a hash keyed by prefix+path.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a mirror writing through client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Key returns the redis key used for path.
func (m *Redis) Key(path string) string {
	return m.prefix + path
}

// Push replaces the hash at path with fields in one transaction.
func (m *Redis) Push(ctx context.Context, path string, fields map[string]string) error {
	key := m.Key(path)
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(values) > 0 {
			p.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis mirror %s: %w", key, err)
	}
	return nil
}
