// Package cache is the Cache & Freshness Manager (spec §4.2): a
// type-tagged, TTL-tracked key-value store fronted by an in-process
// hashicorp/golang-lru fast path, backed by a shared redis/go-redis/v9
// tier, with an on-disk JSON fallback for when Redis is unreachable.
// golang.org/x/sync/singleflight collapses concurrent loads of the same
// key into one upstream fetch.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

// KeyType tags the shape of a cached value, per spec §3 CacheEntry.
type KeyType string

const (
	KeyString KeyType = "string"
	KeyList   KeyType = "list"
	KeySet    KeyType = "set"
	KeyHash   KeyType = "hash"
)

// Entry is one cache record as described by spec §3's CacheEntry. Value
// carries the JSON-encoded payload; callers unmarshal into their own type.
type Entry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	KeyType     KeyType         `json:"key_type"`
	SizeBytes   int             `json:"size_bytes"`
	CreatedAt   time.Time       `json:"created_at"`
	RefreshedAt time.Time       `json:"refreshed_at"`
	TTLSeconds  int64           `json:"ttl_seconds"`
}

// Stale reports whether the entry's TTL has elapsed as of now.
func (e Entry) Stale(now time.Time) bool {
	return e.RefreshedAt.Add(time.Duration(e.TTLSeconds) * time.Second).Before(now)
}

// Loader produces a fresh value for a cache miss.
type Loader func(ctx context.Context) (any, error)

// Manager is the Cache & Freshness Manager.
type Manager struct {
	namespace string
	ttl       time.Duration
	fallback  string

	lru   *lru.Cache[string, Entry]
	redis *redis.Client
	flow  singleflight.Group

	mx  *metrics.CacheMetrics
	log *slog.Logger

	mu sync.Mutex
}

// New builds a Manager from cfg. redisClient may be nil, in which case only
// the LRU and disk-fallback tiers are used (e.g. in the "lite" profile).
func New(cfg config.CacheConfig, redisCfg config.RedisConfig, mx *metrics.CacheMetrics, log *slog.Logger) (*Manager, error) {
	l, err := lru.New[string, Entry](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("cache: build LRU: %w", err)
	}

	var rc *redis.Client
	if redisCfg.Addr != "" {
		rc = redis.NewClient(&redis.Options{
			Addr:            redisCfg.Addr,
			Password:        redisCfg.Password,
			DB:              redisCfg.DB,
			PoolSize:        redisCfg.PoolSize,
			MinIdleConns:    redisCfg.MinIdleConns,
			DialTimeout:     redisCfg.DialTimeout,
			ReadTimeout:     redisCfg.ReadTimeout,
			WriteTimeout:    redisCfg.WriteTimeout,
			MaxRetries:      redisCfg.MaxRetries,
			MinRetryBackoff: redisCfg.MinRetryBackoff,
			MaxRetryBackoff: redisCfg.MaxRetryBackoff,
		})
	}

	if cfg.DiskFallbackDir != "" {
		if err := os.MkdirAll(cfg.DiskFallbackDir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create disk fallback dir: %w", err)
		}
	}

	return &Manager{
		namespace: cfg.Namespace,
		ttl:       cfg.TTL(),
		fallback:  cfg.DiskFallbackDir,
		lru:       l,
		redis:     rc,
		mx:        mx,
		log:       log,
	}, nil
}

func (m *Manager) namespacedKey(key string) string {
	return fmt.Sprintf("%s:%s", m.namespace, key)
}

// GetOrLoad returns the cached value for key, invoking loader on a miss.
// Concurrent callers for the same key observe exactly one loader
// invocation (spec §8 property).
func (m *Manager) GetOrLoad(ctx context.Context, key string, loader Loader) (json.RawMessage, error) {
	if entry, ok := m.getFresh(ctx, key); ok {
		return entry.Value, nil
	}

	v, err, _ := m.flow.Do(key, func() (any, error) {
		if entry, ok := m.getFresh(ctx, key); ok {
			return entry.Value, nil
		}
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("cache: marshal loaded value: %w", err)
		}
		if err := m.set(ctx, key, raw, KeyString); err != nil {
			m.log.Warn("cache: failed to persist loaded value", "key", key, "error", err)
		}
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// GetWithFallback returns the most recent value for key even if stale,
// consulting LRU, then Redis, then disk in order, used when loader calls
// are failing and a stale-but-present value is preferable to an error.
func (m *Manager) GetWithFallback(ctx context.Context, key string) (json.RawMessage, bool) {
	nk := m.namespacedKey(key)

	if e, ok := m.lru.Get(nk); ok {
		return e.Value, true
	}
	if m.redis != nil {
		if e, ok := m.getRedis(ctx, nk); ok {
			m.lru.Add(nk, e)
			return e.Value, true
		}
	}
	if e, ok := m.getDisk(nk); ok {
		return e.Value, true
	}
	return nil, false
}

func (m *Manager) getFresh(ctx context.Context, key string) (Entry, bool) {
	nk := m.namespacedKey(key)
	now := time.Now()

	if e, ok := m.lru.Get(nk); ok && !e.Stale(now) {
		m.mx.ItemsTotal.WithLabelValues(key).Set(1)
		return e, true
	}
	if m.redis != nil {
		if e, ok := m.getRedis(ctx, nk); ok && !e.Stale(now) {
			m.lru.Add(nk, e)
			return e, true
		}
	}
	if e, ok := m.getDisk(nk); ok && !e.Stale(now) {
		m.lru.Add(nk, e)
		return e, true
	}
	return Entry{}, false
}

func (m *Manager) set(ctx context.Context, key string, value json.RawMessage, kt KeyType) error {
	nk := m.namespacedKey(key)
	now := time.Now()
	entry := Entry{
		Key:         nk,
		Value:       value,
		KeyType:     kt,
		SizeBytes:   len(value),
		CreatedAt:   now,
		RefreshedAt: now,
		TTLSeconds:  int64(m.ttl.Seconds()),
	}

	m.lru.Add(nk, entry)
	m.mx.LastUpdatedTimestamp.WithLabelValues(key).Set(float64(now.Unix()))
	m.mx.TTLSeconds.WithLabelValues(key).Set(float64(entry.TTLSeconds))

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	var redisErr error
	if m.redis != nil {
		redisErr = m.redis.Set(ctx, nk, raw, m.ttl).Err()
		if redisErr != nil {
			m.log.Warn("cache: redis set failed, writing disk fallback", "key", nk, "error", redisErr)
		}
	}
	if m.redis == nil || redisErr != nil {
		if err := m.writeDisk(nk, raw); err != nil {
			return fmt.Errorf("cache: disk fallback write: %w", err)
		}
	}
	return nil
}

// Set stores value under key with the manager's configured TTL.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}
	return m.set(ctx, key, raw, KeyString)
}

// Invalidate removes key from every tier.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	nk := m.namespacedKey(key)
	m.lru.Remove(nk)
	if m.redis != nil {
		if err := m.redis.Del(ctx, nk).Err(); err != nil {
			m.log.Warn("cache: redis delete failed", "key", nk, "error", err)
		}
	}
	_ = os.Remove(m.diskPath(nk))
	m.mx.ItemsTotal.WithLabelValues(key).Set(0)
	return nil
}

// Refresh forces a reload via loader, overwriting whatever is cached.
func (m *Manager) Refresh(ctx context.Context, key string, loader Loader) (json.RawMessage, error) {
	if err := m.Invalidate(ctx, key); err != nil {
		return nil, err
	}
	return m.GetOrLoad(ctx, key, loader)
}

// Stats reports point-in-time occupancy, used by the control plane's
// /cache/stats endpoint.
type Stats struct {
	LRUItems  int  `json:"lru_items"`
	RedisUp   bool `json:"redis_up"`
}

// Stats returns current cache occupancy and backend health.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := Stats{LRUItems: m.lru.Len()}
	if m.redis != nil {
		s.RedisUp = m.redis.Ping(ctx).Err() == nil
	}
	return s
}

func (m *Manager) getRedis(ctx context.Context, nk string) (Entry, bool) {
	val, err := m.redis.Get(ctx, nk).Result()
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (m *Manager) diskPath(nk string) string {
	safe := filepath.Base(nk)
	return filepath.Join(m.fallback, safe+".json")
}

func (m *Manager) getDisk(nk string) (Entry, bool) {
	if m.fallback == "" {
		return Entry{}, false
	}
	raw, err := os.ReadFile(m.diskPath(nk))
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (m *Manager) writeDisk(nk string, raw []byte) error {
	if m.fallback == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return os.WriteFile(m.diskPath(nk), raw, 0o644)
}
