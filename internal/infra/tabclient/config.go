package tabclient

import "time"

// Config 控制弹窗到 content script 进程的 gRPC 连接，由 internal/config 以 TABCLIENT_ 前缀加载。
type Config struct {
	Endpoint         string        `yaml:"endpoint" env:"ENDPOINT"`
	DialTimeout      time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time" env:"KEEPALIVE_TIME"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout" env:"KEEPALIVE_TIMEOUT"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	Backoff          BackoffConfig `yaml:"backoff" envPrefix:"RETRY_"`
}

// BackoffConfig 决定熔断冷却时间的指数退避参数。
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" env:"INITIAL"`
	Max     time.Duration `yaml:"max" env:"MAX"`
	Jitter  float64       `yaml:"jitter" env:"JITTER"`
}

// DefaultConfig 返回安全默认值。
func DefaultConfig() Config {
	return Config{
		Endpoint:         "unix:///tmp/psbt-bridge.sock",
		DialTimeout:      500 * time.Millisecond,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		BreakerThreshold: 3,
		Backoff: BackoffConfig{
			Initial: 250 * time.Millisecond,
			Max:     5 * time.Second,
			Jitter:  0.2,
		},
	}
}

// Normalize 用默认值填充零值字段。
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = def.KeepaliveTime
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = def.KeepaliveTimeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = def.Backoff.Initial
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = c.Backoff.Initial
	}
	if c.Backoff.Jitter < 0 {
		c.Backoff.Jitter = 0
	}
	return c
}
