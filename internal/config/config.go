// Package config 加载 psbt-bridge 的 YAML 配置并叠加 PSBT_BRIDGE_* 环境变量。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/internal/infra/tabclient"
	"github.com/aegis-sign/psbt-bridge/internal/page"
)

// EnvPrefix 是所有环境变量的公共前缀。
const EnvPrefix = "PSBT_BRIDGE_"

// Config 是 psbt-bridge 各子命令共享的配置。
type Config struct {
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Page       PageConfig       `yaml:"page" envPrefix:"PAGE_"`
	Relay      RelayConfig      `yaml:"relay" envPrefix:"RELAY_"`
	Credential CredentialConfig `yaml:"credential" envPrefix:"CREDENTIAL_"`
	Content    ContentConfig    `yaml:"content" envPrefix:"CONTENT_"`
	Popup      PopupConfig      `yaml:"popup" envPrefix:"POPUP_"`
	TabClient  tabclient.Config `yaml:"tabclient" envPrefix:"TABCLIENT_"`
}

// LogConfig 控制 slog 输出。
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// PageConfig 描述宿主页面集成点。
type PageConfig struct {
	Selectors   page.Selectors `yaml:"selectors" envPrefix:"SELECTOR_"`
	SettleDelay time.Duration  `yaml:"settle_delay" env:"SETTLE_DELAY"`
}

// RelayConfig 控制 content script 侧的入站限速。
type RelayConfig struct {
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// CredentialConfig 控制口令缓存。
type CredentialConfig struct {
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ContentConfig 控制 content 子命令：浏览器与 gRPC 监听端点。
type ContentConfig struct {
	Listen      string `yaml:"listen" env:"LISTEN"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	Browser     string `yaml:"browser" env:"BROWSER"`
	Headless    bool   `yaml:"headless" env:"HEADLESS"`
	StartURL    string `yaml:"start_url" env:"START_URL"`
}

// PopupConfig 控制 popup 子命令。
type PopupConfig struct {
	HTTPAddr      string   `yaml:"http_addr" env:"HTTP_ADDR"`
	SignerCommand []string `yaml:"signer_command" env:"SIGNER_COMMAND" envSeparator:" "`
	PasswordEnv   string   `yaml:"password_env" env:"PASSWORD_ENV"`
	NativeHost    []string `yaml:"native_host" env:"NATIVE_HOST" envSeparator:" "`
	OptionsURL    string   `yaml:"options_url" env:"OPTIONS_URL"`
	// HTTPToken 非空时 HTTP 宿主接口要求 Authorization: Bearer <token>。
	HTTPToken string `yaml:"http_token" env:"HTTP_TOKEN"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Log:        LogConfig{Level: "info", Format: "text"},
		Page:       PageConfig{Selectors: page.DefaultSelectors(), SettleDelay: page.DefaultSettleDelay},
		Relay:      RelayConfig{RateBurst: 1},
		Credential: CredentialConfig{TTL: credential.DefaultTTL},
		Content: ContentConfig{
			Listen:      "unix:///tmp/psbt-bridge.sock",
			MetricsAddr: ":9464",
			Browser:     "chromium",
		},
		Popup:     PopupConfig{HTTPAddr: "127.0.0.1:8089"},
		TabClient: tabclient.DefaultConfig(),
	}
}

// Load 读取 path 指向的 YAML（path 为空时只用默认值），再叠加环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := Default()
	if c.Page.SettleDelay <= 0 {
		c.Page.SettleDelay = def.Page.SettleDelay
	}
	if c.Relay.RateBurst <= 0 {
		c.Relay.RateBurst = 1
	}
	if c.Relay.RateLimit < 0 {
		return errors.New("relay.rate_limit must be >= 0")
	}
	if c.Credential.TTL <= 0 {
		c.Credential.TTL = def.Credential.TTL
	}
	if c.Content.Listen == "" {
		c.Content.Listen = def.Content.Listen
	}
	if c.Content.Browser == "" {
		c.Content.Browser = def.Content.Browser
	}
	switch c.Content.Browser {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("unsupported browser %q", c.Content.Browser)
	}
	c.TabClient = c.TabClient.Normalize()
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel 将配置中的日志级别转换为 slog.Level。
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

// NewLogger 按配置构造 slog Logger，输出到 stderr。
// native-host 模式下 stdout 被协议占用，因此日志统一写 stderr。
func (c LogConfig) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
