package credential

import (
	"context"
	"sync"
)

// 会话存储中使用的键。
const (
	KeyPassword   = "password"
	KeyExpiration = "expiration"
)

// SessionStore 是会话级键值存储，生命周期与浏览器会话一致。
type SessionStore interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, values map[string]any) error
	Clear(ctx context.Context) error
}

// MultiGetter 是可选能力：在一次快照中读取多个键。
type MultiGetter interface {
	GetMany(ctx context.Context, keys ...string) (map[string]any, error)
}

// MemoryStore 是进程内会话存储，进程退出即丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemoryStore 构造空存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]any)}
}

// Get 实现 SessionStore。
func (s *MemoryStore) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// GetMany 实现 MultiGetter，缺失的键不会出现在结果中。
func (s *MemoryStore) GetMany(ctx context.Context, keys ...string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set 实现 SessionStore，批量覆盖写入。
func (s *MemoryStore) Set(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

// Clear 实现 SessionStore。
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	return nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
