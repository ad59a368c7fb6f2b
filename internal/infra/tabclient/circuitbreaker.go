package tabclient

import (
	"math/rand"
	"sync"
	"time"
)

// circuitBreaker 在端点连续失败 threshold 次后短路调用。
// 冷却结束后放行一次试探，试探失败立即再次熔断且冷却时间翻倍。
type circuitBreaker struct {
	threshold int
	now       func() time.Time

	mu        sync.Mutex
	open      bool
	failures  int
	openUntil time.Time
	cooldown  cooldown
}

func newCircuitBreaker(threshold int, cfg BackoffConfig, now func() time.Time) *circuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &circuitBreaker{threshold: max(threshold, 1), now: now, cooldown: cooldown{cfg: cfg}}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open && !cb.now().Before(cb.openUntil) {
		cb.open = false
		cb.failures = cb.threshold - 1
	}
	return !cb.open
}

func (cb *circuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.failures = 0
	cb.cooldown.step = 0
}

func (cb *circuitBreaker) Failure() (tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open {
		return false
	}
	cb.failures++
	if cb.failures < cb.threshold {
		return false
	}
	cb.open = true
	cb.openUntil = cb.now().Add(cb.cooldown.next())
	return true
}

// cooldown 是 Initial 起步、逐次翻倍、以 Max 封顶的冷却时间序列，
// Jitter 为对称抖动比例。调用方负责加锁。
type cooldown struct {
	cfg    BackoffConfig
	step   int
	jitter func() float64
}

func (c *cooldown) next() time.Duration {
	d := c.cfg.Initial
	for i := 0; i < c.step && d < c.cfg.Max; i++ {
		d *= 2
	}
	c.step++
	if c.cfg.Jitter > 0 {
		rnd := c.jitter
		if rnd == nil {
			rnd = rand.Float64
		}
		d = time.Duration(float64(d) * (1 + c.cfg.Jitter*(2*rnd()-1)))
	}
	return min(max(d, c.cfg.Initial), c.cfg.Max)
}
