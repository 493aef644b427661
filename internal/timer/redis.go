package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiliankoe/doublecross/internal/game"
)

const (
	keyPrefix = "game:timer:"
	// armed marks a countdown that was started and not cancelled, so a
	// missing timer key can be told apart from a cancelled one.
	armedSuffix = ":armed"
	armedGrace  = time.Hour
)

// Redis keeps one TTL key per session, the way the turn countdown is shared
// between server instances.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var _ game.Timer = (*Redis)(nil)

func timerKey(id string) string { return keyPrefix + id }

func (r *Redis) Start(ctx context.Context, sessionID string, seconds int) error {
	ttl := time.Duration(seconds) * time.Second
	started := time.Now().UnixMilli()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, timerKey(sessionID), started, ttl)
		p.Set(ctx, timerKey(sessionID)+armedSuffix, seconds, ttl+armedGrace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start timer %s: %w", sessionID, err)
	}
	return nil
}

func (r *Redis) Cancel(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, timerKey(sessionID), timerKey(sessionID)+armedSuffix).Err(); err != nil {
		return fmt.Errorf("cancel timer %s: %w", sessionID, err)
	}
	return nil
}

func (r *Redis) RemainingSeconds(ctx context.Context, sessionID string) (int, error) {
	ttl, err := r.client.TTL(ctx, timerKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("timer ttl %s: %w", sessionID, err)
	}
	// -2 missing, -1 no expiry
	if ttl <= 0 {
		return 0, nil
	}
	return int(ttl.Round(time.Second) / time.Second), nil
}

func (r *Redis) IsExpired(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, timerKey(sessionID), timerKey(sessionID)+armedSuffix).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("timer exists %s: %w", sessionID, err)
	}
	if n != 1 {
		return false, nil
	}
	// exactly one key left: the countdown ran out while still armed
	armed, err := r.client.Exists(ctx, timerKey(sessionID)+armedSuffix).Result()
	if err != nil {
		return false, fmt.Errorf("timer armed %s: %w", sessionID, err)
	}
	return armed == 1, nil
}
