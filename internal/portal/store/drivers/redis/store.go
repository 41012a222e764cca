package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/billing/internal/portal/store"
)

// DefaultTTL is how long an untouched profile survives.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "billing:session:"

// Options configures a Redis-backed store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Profile  string

	// TTL is refreshed on every write. Zero uses DefaultTTL; negative
	// disables expiry.
	TTL time.Duration
}

// Store keeps one profile's entries in a Redis hash.
type Store struct {
	client  *redis.Client
	profile string
	ttl     time.Duration
	owned   bool
}

var _ store.Store = (*Store)(nil)

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s, err := NewStoreWithClient(client, opts.Profile, opts.TTL)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStoreWithClient wraps an existing client. Close leaves it open.
func NewStoreWithClient(client *redis.Client, profile string, ttl time.Duration) (*Store, error) {
	if err := store.ValidateProfile(profile); err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, profile: profile, ttl: ttl}, nil
}

func (s *Store) key() string { return keyPrefix + s.profile }

func (s *Store) Name() string { return "redis:" + s.profile }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(), key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key(), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key(), key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key()).Err()
}

// Profiles scans for profile hashes. Redis drops empty hashes, so every
// match holds at least one key.
func (s *Store) Profiles(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// TTL reports the remaining lifetime of the profile. It is negative when
// the profile has no expiry or does not exist.
func (s *Store) TTL(ctx context.Context) (time.Duration, error) {
	return s.client.TTL(ctx, s.key()).Result()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
