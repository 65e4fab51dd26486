package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrMiss 本地缓存未命中
var ErrMiss = errors.New("cache miss")

// KV 本地持久化的 key-value blob 存储。
// 每个 key 的写入/删除都是原子的：要么是完整的旧值，要么是完整的新值。
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetEx 单独指定过期时间，ttl 为 0 表示不过期
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// 具体实现：基于 redis 的 KV
type redisKV struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisKV ttl 为 0 表示不过期
func NewRedisKV(rdb redis.UniversalClient, ttl time.Duration) KV {
	return &redisKV{rdb: rdb, ttl: ttl}
}

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return b, nil
}

func (r *redisKV) Set(ctx context.Context, key string, value []byte) error {
	// SET 本身是单 key 原子操作
	return r.rdb.Set(ctx, key, value, r.ttl).Err()
}

func (r *redisKV) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// 内存实现：本地开发和测试使用
type memoryKV struct {
	mu   sync.RWMutex
	data map[string]memEntry
}

type memEntry struct {
	v   []byte
	exp time.Time // 零值表示不过期
}

func NewMemoryKV() KV {
	return &memoryKV{data: make(map[string]memEntry)}
}

func (m *memoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, ErrMiss
	}
	// 返回副本，调用方修改不影响缓存
	out := make([]byte, len(e.v))
	copy(out, e.v)
	return out, nil
}

func (m *memoryKV) Set(ctx context.Context, key string, value []byte) error {
	return m.SetEx(ctx, key, value, 0)
}

func (m *memoryKV) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{v: make([]byte, len(value))}
	copy(e.v, value)
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
