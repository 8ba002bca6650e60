package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry implements Registry on a Redis hash per document with a
// per-hash TTL refreshed on every write.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(addr string, ttl time.Duration) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func presenceKey(docID string) string {
	return "presence:" + docID
}

// Join records the user with an initial cursor at 0.
func (r *RedisRegistry) Join(ctx context.Context, docID, userID string) error {
	return r.UpdateCursor(ctx, docID, userID, 0)
}

// Leave removes the user's entry.
func (r *RedisRegistry) Leave(ctx context.Context, docID, userID string) error {
	if err := r.client.HDel(ctx, presenceKey(docID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence for %s: %w", userID, err)
	}
	return nil
}

// UpdateCursor upserts the cursor and refreshes the document's TTL.
func (r *RedisRegistry) UpdateCursor(ctx context.Context, docID, userID string, position int) error {
	key := presenceKey(docID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, userID, strconv.Itoa(position))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update cursor for %s: %w", userID, err)
	}
	return nil
}

// ListUsers returns the users currently present on the document.
func (r *RedisRegistry) ListUsers(ctx context.Context, docID string) ([]string, error) {
	users, err := r.client.HKeys(ctx, presenceKey(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence for %s: %w", docID, err)
	}
	return users, nil
}

// GetCursors returns userID → cursor position for the document.
func (r *RedisRegistry) GetCursors(ctx context.Context, docID string) (map[string]int, error) {
	fields, err := r.client.HGetAll(ctx, presenceKey(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cursors for %s: %w", docID, err)
	}

	cursors := make(map[string]int, len(fields))
	for user, raw := range fields {
		pos, err := strconv.Atoi(raw)
		if err != nil {
			// Skip corrupt entries rather than failing the snapshot.
			continue
		}
		cursors[user] = pos
	}
	return cursors, nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
