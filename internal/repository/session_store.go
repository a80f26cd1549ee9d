package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys are "{prefix}:token:{token}" holding the owner id, plus a per-user index
// set "{prefix}:user:{userID}" listing the user's tokens. The two namespaces
// never overlap whatever a caller passes as a token. The index never outlives
// the longest-lived token it references.

var createSessionScript = redis.NewScript(`
	local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
	if not ok then
		return 0
	end
	redis.call('SADD', KEYS[2], ARGV[3])
	if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
		redis.call('PEXPIRE', KEYS[2], ARGV[2])
	end
	return 1
`)

var refreshSessionScript = redis.NewScript(`
	local uid = redis.call('GET', KEYS[1])
	if not uid then
		return 0
	end
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	local idx = ARGV[1] .. ':user:' .. uid
	if redis.call('PTTL', idx) < tonumber(ARGV[2]) then
		redis.call('PEXPIRE', idx, ARGV[2])
	end
	return 1
`)

var takeSessionScript = redis.NewScript(`
	local uid = redis.call('GET', KEYS[1])
	if not uid then
		return false
	end
	redis.call('DEL', KEYS[1])
	redis.call('SREM', ARGV[1] .. ':user:' .. uid, ARGV[2])
	return uid
`)

var deleteAllSessionsScript = redis.NewScript(`
	local tokens = redis.call('SMEMBERS', KEYS[1])
	local deleted = 0
	for _, token in ipairs(tokens) do
		deleted = deleted + redis.call('DEL', ARGV[1] .. ':token:' .. token)
	end
	redis.call('DEL', KEYS[1])
	return deleted
`)

// RedisSessionStore implements SessionStore on Redis
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore creates a session store. ttl is used by Refresh and by
// Create when no explicit TTL is given.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = sessionPrefix
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) key(token string) string {
	return s.prefix + ":token:" + token
}

func (s *RedisSessionStore) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

// Get returns the owner of a token
func (s *RedisSessionStore) Get(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s token: %w", s.prefix, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis %s: get failed: %w", s.prefix, err)
	}
	return userID, nil
}

// Create stores a token for a user and adds it to the user's index
func (s *RedisSessionStore) Create(ctx context.Context, token, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}

	created, err := createSessionScript.Run(ctx, s.client,
		[]string{s.key(token), s.userKey(userID)},
		userID, ttl.Milliseconds(), token,
	).Int()
	if err != nil {
		return fmt.Errorf("redis %s: create failed: %w", s.prefix, err)
	}
	if created == 0 {
		return fmt.Errorf("%s token: %w", s.prefix, ErrDuplicateToken)
	}
	return nil
}

// Refresh resets the token TTL to the store default
func (s *RedisSessionStore) Refresh(ctx context.Context, token string) error {
	refreshed, err := refreshSessionScript.Run(ctx, s.client,
		[]string{s.key(token)},
		s.prefix, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis %s: refresh failed: %w", s.prefix, err)
	}
	if refreshed == 0 {
		return fmt.Errorf("%s token: %w", s.prefix, ErrNotFound)
	}
	return nil
}

// Delete removes a token if present
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.Take(ctx, token)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Take removes a token and returns its owner. Of two concurrent callers only
// one receives the owner; the other gets ErrNotFound.
func (s *RedisSessionStore) Take(ctx context.Context, token string) (string, error) {
	userID, err := takeSessionScript.Run(ctx, s.client,
		[]string{s.key(token)},
		s.prefix, token,
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s token: %w", s.prefix, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis %s: take failed: %w", s.prefix, err)
	}
	return userID, nil
}

// DeleteAllForUser removes every token of a user and returns how many were live
func (s *RedisSessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	deleted, err := deleteAllSessionsScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		s.prefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis %s: delete all failed: %w", s.prefix, err)
	}
	return deleted, nil
}

// GetAllForUser lists the live tokens of a user, pruning expired index entries
func (s *RedisSessionStore) GetAllForUser(ctx context.Context, userID string) ([]string, error) {
	indexKey := s.userKey(userID)

	tokens, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis %s: list failed: %w", s.prefix, err)
	}
	if len(tokens) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(tokens))
	for i, token := range tokens {
		checks[i] = pipe.Exists(ctx, s.key(token))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis %s: list failed: %w", s.prefix, err)
	}

	live := make([]string, 0, len(tokens))
	var stale []any
	for i, check := range checks {
		if check.Val() > 0 {
			live = append(live, tokens[i])
		} else {
			stale = append(stale, tokens[i])
		}
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: prune failed: %w", s.prefix, err)
		}
	}

	return live, nil
}

// CountForUser counts the live tokens of a user
func (s *RedisSessionStore) CountForUser(ctx context.Context, userID string) (int, error) {
	tokens, err := s.GetAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}
