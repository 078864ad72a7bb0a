// Package invite stores one-time join-approval tokens for sessions that
// require an invite. Tokens live in Redis with a TTL and are consumed on
// redemption.
package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"atelier/api/internal/auth"
	"atelier/api/internal/rbac"
	"atelier/api/internal/util"
)

var ErrNotFound = errors.New("invite not found or expired")

// Invite is the server-side record behind an invite token.
type Invite struct {
	SessionID string    `json:"session_id"`
	Role      rbac.Role `json:"role"`
	InvitedBy string    `json:"invited_by"`
	CreatedAt time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: "invite:", ttl: ttl}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Create mints a token for one join. Only the token's hash is stored.
func (s *RedisStore) Create(ctx context.Context, invite Invite) (string, error) {
	invite.CreatedAt = time.Now()
	data, err := json.Marshal(invite)
	if err != nil {
		return "", fmt.Errorf("marshal invite: %w", err)
	}

	token := util.NewToken()
	if err := s.client.Set(ctx, s.key(auth.HashToken(token)), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store invite: %w", err)
	}
	return token, nil
}

// Redeem consumes a token atomically; a second redemption fails.
func (s *RedisStore) Redeem(ctx context.Context, token string) (Invite, error) {
	data, err := s.client.GetDel(ctx, s.key(auth.HashToken(token))).Bytes()
	if errors.Is(err, redis.Nil) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, fmt.Errorf("redeem invite: %w", err)
	}

	var invite Invite
	if err := json.Unmarshal(data, &invite); err != nil {
		return Invite{}, fmt.Errorf("unmarshal invite: %w", err)
	}
	return invite, nil
}

// Restore puts a redeemed invite back so a join that fails after redemption
// does not burn the token.
func (s *RedisStore) Restore(ctx context.Context, token string, invite Invite) error {
	data, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("marshal invite: %w", err)
	}
	if err := s.client.Set(ctx, s.key(auth.HashToken(token)), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("restore invite: %w", err)
	}
	return nil
}

// Revoke discards a token before redemption, e.g. when its session is
// deleted.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(auth.HashToken(token))).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
