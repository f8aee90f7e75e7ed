// Package session provides the Redis-backed stores for refresh tokens
// and the guest-session lookup cache.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token or session has no entry (it may
// have expired or never existed).
var ErrNotFound = errors.New("session: not found")

// TokenData holds the data stored for each refresh token
type TokenData struct {
	ProfileID   string    `json:"profile_id"`
	DisplayName string    `json:"display_name"`
	IsGuest     bool      `json:"is_guest"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore implements refresh token storage and the guest-session
// cache on Redis.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	guestPrefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{
		client:      client,
		prefix:      "refresh:",
		guestPrefix: "guest:",
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:      client,
		prefix:      "refresh:",
		guestPrefix: "guest:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token with expiration
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, data TokenData, expiresAt time.Time) error {
	data.CreatedAt = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour // Default 30 days
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}

	return nil
}

// LookupRefreshSession retrieves a refresh token's data
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return TokenData{}, ErrNotFound
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return TokenData{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	return data, nil
}

// RevokeRefreshSession deletes a refresh token
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// CacheGuestProfile remembers which profile a guest session resolved to,
// bounded by the guest validity window so the cache can never outlive
// the identity itself.
func (s *RedisStore) CacheGuestProfile(ctx context.Context, sessionID, profileID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.guestPrefix+sessionID, profileID, ttl).Err(); err != nil {
		return fmt.Errorf("cache guest profile: %w", err)
	}
	return nil
}

// LookupGuestProfile returns the cached profile id for a guest session.
func (s *RedisStore) LookupGuestProfile(ctx context.Context, sessionID string) (string, error) {
	profileID, err := s.client.Get(ctx, s.guestPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup guest profile: %w", err)
	}
	return profileID, nil
}

// ForgetGuestProfile drops a guest-session cache entry (after migration).
func (s *RedisStore) ForgetGuestProfile(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.guestPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("forget guest profile: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
