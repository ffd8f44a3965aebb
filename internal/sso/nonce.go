package sso

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNonceTTL bounds how long a login attempt may take between the
// redirect and the callback.
const DefaultNonceTTL = 10 * time.Minute

// NonceStore stashes the anti-forgery state of pending login attempts.
// Take consumes a nonce: it succeeds at most once per Put.
type NonceStore interface {
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	Take(ctx context.Context, nonce string) (bool, error)
}

// MemoryNonceStore keeps nonces in process. It only works for a single
// replica.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewMemoryNonceStore(now func() time.Time) *MemoryNonceStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceStore{nonces: map[string]time.Time{}, now: now}
}

func (m *MemoryNonceStore) Put(_ context.Context, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for n, exp := range m.nonces {
		if !now.Before(exp) {
			delete(m.nonces, n)
		}
	}
	m.nonces[nonce] = now.Add(ttl)
	return nil
}

func (m *MemoryNonceStore) Take(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(m.nonces, nonce)
	return m.now().Before(exp), nil
}

// RedisNonceStore shares nonces between replicas.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisNonceStore connects to the server at url (redis://...) and
// checks it answers.
func NewRedisNonceStore(ctx context.Context, url, keyPrefix string) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisNonceStoreWithClient(client, keyPrefix), nil
}

// NewRedisNonceStoreWithClient wraps an existing client.
func NewRedisNonceStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisNonceStore {
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisNonceStore) key(nonce string) string {
	return r.keyPrefix + "sso:nonce:" + nonce
}

func (r *RedisNonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(nonce), "1", ttl).Err(); err != nil {
		return fmt.Errorf("storing nonce: %w", err)
	}
	return nil
}

func (r *RedisNonceStore) Take(ctx context.Context, nonce string) (bool, error) {
	err := r.client.GetDel(ctx, r.key(nonce)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("taking nonce: %w", err)
	}
	return true, nil
}

func (r *RedisNonceStore) Close() error {
	return r.client.Close()
}
