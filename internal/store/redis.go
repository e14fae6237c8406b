package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/session"
)

const redisKeyPrefix = "hoplite:conv:"

// Redis is the Redis-backed conversation store. Each conversation is a
// list of JSON-encoded turns, appended in order.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects a Redis client and verifies it with a ping.
func NewRedis(ctx context.Context, url string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Redis connected")
	return &Redis{client: client, logger: logger}, nil
}

// Load returns the full conversation history, oldest first.
func (r *Redis) Load(ctx context.Context, conversationID string) ([]session.Turn, error) {
	raw, err := r.client.LRange(ctx, redisKeyPrefix+conversationID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	turns := make([]session.Turn, 0, len(raw))
	for _, item := range raw {
		var t session.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Save appends one turn to the conversation list.
func (r *Redis) Save(ctx context.Context, conversationID string, turn session.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if err := r.client.RPush(ctx, redisKeyPrefix+conversationID, data).Err(); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// Delete removes the conversation list.
func (r *Redis) Delete(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+conversationID).Err(); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
