package credential

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"
)

// DefaultTTL 是口令在会话存储中的固定有效期。
const DefaultTTL = 300_000 * time.Millisecond

// Credential 是会话存储中的一条口令记录。
type Credential struct {
	Password   string
	Expiration time.Time
}

// Config 控制 Cache 行为。
type Config struct {
	TTL     time.Duration
	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Cache 在会话存储中保存一条带过期时间的口令，读取时惰性淘汰。
//
// Get 在读取与条件清除之间不持锁：并发的 Save 可能被随后的清除抹掉。
// 存储实现 MultiGetter 时两个键在同一快照中读取，窗口只剩读取到清除之间。
type Cache struct {
	store   SessionStore
	multi   MultiGetter
	ttl     time.Duration
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
}

// New 构造 Cache。store 为空表示当前环境没有会话存储，所有操作降级为空操作。
func New(store SessionStore, cfg Config) *Cache {
	normalized := cfg.normalize()
	c := &Cache{
		store:   store,
		ttl:     normalized.TTL,
		clock:   normalized.Clock,
		logger:  normalized.Logger,
		metrics: normalized.Metrics,
	}
	if mg, ok := store.(MultiGetter); ok {
		c.multi = mg
	}
	return c
}

// SessionAvailable 报告会话存储是否存在。
func (c *Cache) SessionAvailable() bool {
	return c != nil && c.store != nil
}

// Save 写入口令与 now+TTL，覆盖已有记录。
func (c *Cache) Save(ctx context.Context, password string) error {
	if !c.SessionAvailable() {
		c.metrics.incOp("save", "unavailable")
		return nil
	}
	expiration := c.clock.Now().Add(c.ttl)
	err := c.store.Set(ctx, map[string]any{
		KeyPassword:   password,
		KeyExpiration: expiration.UnixMilli(),
	})
	if err != nil {
		c.metrics.incOp("save", "error")
		c.logger.Warn("save credential failed", slog.Any("err", err))
		return err
	}
	c.metrics.incOp("save", "ok")
	c.logger.Debug("credential saved", slog.Time("expiration", expiration))
	return nil
}

// Get 仅在过期标记存在且当前时间早于过期时间时返回口令，否则清除存储并返回空串。
// 存储故障等同于没有凭据。
func (c *Cache) Get(ctx context.Context) string {
	if !c.SessionAvailable() {
		c.metrics.incOp("get", "unavailable")
		return ""
	}
	cred, ok, err := c.read(ctx)
	if err != nil {
		c.metrics.incOp("get", "error")
		c.logger.Debug("read credential failed", slog.Any("err", err))
		return ""
	}
	if !ok {
		c.evict(ctx, "missing_expiration")
		return ""
	}
	if !c.clock.Now().Before(cred.Expiration) {
		c.evict(ctx, "expired")
		return ""
	}
	c.metrics.incOp("get", "hit")
	return cred.Password
}

// Clear 删除所有条目，存储为空时同样安全。
func (c *Cache) Clear(ctx context.Context) error {
	if !c.SessionAvailable() {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		c.metrics.incOp("clear", "error")
		c.logger.Warn("clear credential failed", slog.Any("err", err))
		return err
	}
	c.metrics.incOp("clear", "ok")
	return nil
}

func (c *Cache) evict(ctx context.Context, reason string) {
	c.metrics.incOp("get", "miss")
	c.metrics.incEviction(reason)
	_ = c.Clear(ctx)
}

// read 返回存储中的记录；ok=false 表示过期标记缺失或无法解析。
func (c *Cache) read(ctx context.Context) (Credential, bool, error) {
	var rawPassword, rawExpiration any
	var hasExpiration bool
	if c.multi != nil {
		values, err := c.multi.GetMany(ctx, KeyPassword, KeyExpiration)
		if err != nil {
			return Credential{}, false, err
		}
		rawPassword = values[KeyPassword]
		rawExpiration, hasExpiration = values[KeyExpiration]
	} else {
		var err error
		rawPassword, _, err = c.store.Get(ctx, KeyPassword)
		if err != nil {
			return Credential{}, false, err
		}
		rawExpiration, hasExpiration, err = c.store.Get(ctx, KeyExpiration)
		if err != nil {
			return Credential{}, false, err
		}
	}
	if !hasExpiration {
		return Credential{}, false, nil
	}
	ms, ok := epochMillis(rawExpiration)
	if !ok {
		return Credential{}, false, nil
	}
	password, _ := rawPassword.(string)
	return Credential{Password: password, Expiration: time.UnixMilli(ms)}, true, nil
}

// epochMillis 接受存储可能返回的各种数值形态。
func epochMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case time.Time:
		return n.UnixMilli(), true
	default:
		return 0, false
	}
}
